//go:build unix

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Go cannot fork a running runtime, so detaching re-executes the binary
// twice. The first child becomes a session leader and immediately starts
// the second, which is no session leader and can never reacquire a
// controlling terminal. Each stage is told its role through detachEnv.
const (
	detachEnv     = "HOSTAGENT_DETACH_STAGE"
	stageSession  = "session"
	stageDetached = "detached"
)

// ContinueDetach must be called first thing in main. In the intermediate
// session-leader process it starts the final process and exits; elsewhere
// it returns immediately.
func ContinueDetach() {
	if os.Getenv(detachEnv) != stageSession {
		return
	}
	if err := respawn(stageDetached, false); err != nil {
		fmt.Fprintf(os.Stderr, "detach: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// detached reports whether this process is the final stage of a detach.
func detached() bool {
	return os.Getenv(detachEnv) == stageDetached
}

// detach performs step 9. In the original process it starts the session
// leader and exits. In the final process it resets the umask and returns.
func (d *Daemon) detach() error {
	if detached() {
		os.Unsetenv(detachEnv)
		unix.Umask(0o077)
		return nil
	}
	if err := respawn(stageSession, true); err != nil {
		return err
	}
	d.log.Info().Msg("Detached, parent exiting")
	d.exit(0)
	return nil
}

func respawn(stage string, newSession bool) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer null.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), detachEnv+"="+stage)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = null, null, null
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: newSession}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s stage: %w", stage, err)
	}
	return cmd.Process.Release()
}
