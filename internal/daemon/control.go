//go:build unix

package daemon

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// State is the observed state of the daemon.
type State int

const (
	NotRunning State = iota
	// Stale means the pid file exists but names no live process.
	Stale
	Running
)

// Status is the result of a read-only daemon probe.
type Status struct {
	State State
	Pid   int
}

func (s Status) String() string {
	switch s.State {
	case Running:
		return fmt.Sprintf("Service is running (pid %d)", s.Pid)
	case Stale:
		return "Service is not running but pid file exists"
	default:
		return "Service is not running"
	}
}

// Status probes the pid file and the process it names. It never changes
// any state.
func (d *Daemon) Status() (Status, error) {
	pid, err := ReadPid(d.opts.PidFile)
	if errors.Is(err, os.ErrNotExist) {
		return Status{State: NotRunning}, nil
	}
	if err != nil {
		return Status{}, lifecycleErr("status", err)
	}

	alive, err := processAlive(pid)
	if err != nil {
		return Status{}, lifecycleErr("status", err)
	}
	if alive {
		return Status{State: Running, Pid: pid}, nil
	}
	return Status{State: Stale, Pid: pid}, nil
}

// Stop terminates the running daemon. It reports false without doing
// anything when there is no pid file.
func (d *Daemon) Stop() (bool, error) {
	pid, err := ReadPid(d.opts.PidFile)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, lifecycleErr("stop", err)
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			// stale pid file
			return false, removePid(d.opts.PidFile)
		}
		return false, lifecycleErr("stop", fmt.Errorf("signal %d: %w", pid, err))
	}

	for i := 0; i < stopPolls; i++ {
		time.Sleep(stopPollInterval)
		alive, err := processAlive(pid)
		if err != nil {
			return false, lifecycleErr("stop", err)
		}
		if !alive {
			// The daemon removes its own pid file; this covers a crash mid-shutdown.
			if err := removePid(d.opts.PidFile); err != nil {
				return true, lifecycleErr("stop", err)
			}
			return true, nil
		}
	}
	return false, lifecycleErr("stop", fmt.Errorf("pid %d did not die: %w", pid, ErrTimeout))
}
