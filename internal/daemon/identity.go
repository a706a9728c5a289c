//go:build unix

package daemon

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// TempPrefix marks temporary files the agent creates. Files carrying it are
// handed over to the daemon identity before privileges are dropped.
const TempPrefix = "hostagent-"

// lookupIdentity resolves user and group names or numeric ids.
func lookupIdentity(userName, groupName string) (uid, gid int, err error) {
	uid, err = strconv.Atoi(userName)
	if err != nil {
		u, lerr := user.Lookup(userName)
		if lerr != nil {
			return 0, 0, fmt.Errorf("lookup user %q: %w", userName, lerr)
		}
		uid, _ = strconv.Atoi(u.Uid)
	}

	gid, err = strconv.Atoi(groupName)
	if err != nil {
		g, lerr := user.LookupGroup(groupName)
		if lerr != nil {
			return 0, 0, fmt.Errorf("lookup group %q: %w", groupName, lerr)
		}
		gid, _ = strconv.Atoi(g.Gid)
	}
	return uid, gid, nil
}

// privileged reports whether the process must still switch identity.
func (d *Daemon) privileged() bool {
	return os.Geteuid() == 0 && (d.uid != 0 || d.gid != 0)
}

func (d *Daemon) chown(path string) error {
	if !d.privileged() {
		return nil
	}
	if err := os.Chown(path, d.uid, d.gid); err != nil {
		return fmt.Errorf("chown %s to %d:%d: %w", path, d.uid, d.gid, err)
	}
	return nil
}

// setupRoot hands temporary agent files created by root to the daemon identity.
func (d *Daemon) setupRoot() error {
	if !d.privileged() {
		return nil
	}
	tmp := os.TempDir()
	entries, err := os.ReadDir(tmp)
	if err != nil {
		// not fatal: nothing to hand over
		d.log.Warn().Err(err).Str("dir", tmp).Msg("Cannot list temp directory")
		return nil
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.Contains(e.Name(), TempPrefix) {
			continue
		}
		if err := d.chown(filepath.Join(tmp, e.Name())); err != nil {
			d.log.Warn().Err(err).Msg("Cannot hand over temp file")
		}
	}
	return nil
}

// dropPrivileges switches to the daemon identity. The syscall package
// applies setuid and setgid to every thread of the process.
func (d *Daemon) dropPrivileges() error {
	if !d.privileged() {
		d.log.Debug().Int("uid", os.Geteuid()).Msg("Not running as root, keeping current identity")
		return nil
	}
	if err := syscall.Setgroups([]int{d.gid}); err != nil {
		return fmt.Errorf("setgroups: %w", err)
	}
	if err := syscall.Setgid(d.gid); err != nil {
		return fmt.Errorf("setgid %d: %w", d.gid, err)
	}
	if err := syscall.Setuid(d.uid); err != nil {
		return fmt.Errorf("setuid %d: %w", d.uid, err)
	}
	return nil
}
