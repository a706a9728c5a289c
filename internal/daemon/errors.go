//go:build unix

package daemon

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned when the pid file names a live process.
	ErrAlreadyRunning = errors.New("another instance is already running")
	// ErrPidfileNotWritable is returned when the daemon identity cannot write the pid file.
	ErrPidfileNotWritable = errors.New("pid file is not writable")
	// ErrTimeout is returned when a stopped process does not exit in time.
	ErrTimeout = errors.New("timed out")
	// ErrWorkerFailed is returned when a worker raised the shared error flag.
	ErrWorkerFailed = errors.New("worker failed")
)

// LifecycleError reports a failure of a daemon lifecycle step.
type LifecycleError struct {
	Op  string
	Err error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("daemon %s: %v", e.Op, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

func lifecycleErr(op string, err error) error {
	return &LifecycleError{Op: op, Err: err}
}
