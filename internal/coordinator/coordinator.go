// Package coordinator runs the listener and passive workers as separate
// processes that share a single error flag.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"hostagent/internal/logger"
	"hostagent/internal/sharedflag"
)

// Worker roles.
const (
	RoleListener = "listener"
	RolePassive  = "passive"
)

const defaultStopTimeout = 5 * time.Second

// Options configures a Coordinator.
type Options struct {
	// Executable is the binary started for each worker. Defaults to the
	// running executable.
	Executable string
	// Args are appended to every worker command line.
	Args []string
	// Env is appended to the environment of every worker.
	Env []string
	// FlagPath is the shared flag file. Defaults to a file in the temp dir.
	FlagPath     string
	ListenerOnly bool
	PassiveOnly  bool
	StopTimeout  time.Duration
}

// Roles returns the workers selected by the options. Setting both
// ListenerOnly and PassiveOnly runs both.
func (o Options) Roles() []string {
	var roles []string
	if !o.ListenerOnly || o.PassiveOnly {
		roles = append(roles, RolePassive)
	}
	if !o.PassiveOnly || o.ListenerOnly {
		roles = append(roles, RoleListener)
	}
	return roles
}

type worker struct {
	role string
	cmd  *exec.Cmd
	done chan struct{}
}

// Coordinator spawns and supervises worker processes.
type Coordinator struct {
	opts     Options
	flag     *sharedflag.Flag
	stopping atomic.Bool

	mu      sync.Mutex
	workers []*worker
}

// New returns a coordinator for opts.
func New(opts Options) *Coordinator {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	return &Coordinator{opts: opts}
}

// Start creates the shared flag and spawns the selected workers. If one
// cannot be spawned, the ones already running are stopped.
func (c *Coordinator) Start(ctx context.Context) error {
	log := logger.WithComponent("coordinator")

	exe := c.opts.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
	}

	flagPath := c.opts.FlagPath
	if flagPath == "" {
		flagPath = filepath.Join(os.TempDir(), fmt.Sprintf("hostagent-flag-%d", os.Getpid()))
	}
	flag, err := sharedflag.Create(flagPath)
	if err != nil {
		return err
	}
	c.flag = flag

	for _, role := range c.opts.Roles() {
		if err := c.spawn(exe, role); err != nil {
			c.Stop()
			return err
		}
		log.Info().Str("role", role).Msg("Spawned worker process")
	}
	return nil
}

func (c *Coordinator) spawn(exe, role string) error {
	args := append([]string{"worker", role, "--error-flag", c.flag.Path()}, c.opts.Args...)
	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), c.opts.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s worker: %w", role, err)
	}

	w := &worker{role: role, cmd: cmd, done: make(chan struct{})}
	c.mu.Lock()
	c.workers = append(c.workers, w)
	c.mu.Unlock()

	go c.monitor(w)
	return nil
}

// monitor waits for a worker to exit. An exit the coordinator did not ask
// for raises the flag. done is closed only after the flag is written, so
// Stop never releases the flag under a pending Set.
func (c *Coordinator) monitor(w *worker) {
	defer close(w.done)
	log := logger.WithComponent("coordinator")
	err := w.cmd.Wait()

	if c.stopping.Load() {
		return
	}
	log.Error().Err(err).
		Str("role", w.role).
		Int("worker_pid", w.cmd.Process.Pid).
		Msg("Worker process exited unexpectedly")
	c.flag.Set()
}

// Failed reports whether any worker raised the shared flag.
func (c *Coordinator) Failed() bool {
	return c.flag != nil && c.flag.IsSet()
}

// Stop terminates the workers, killing those still alive after the stop
// timeout, and removes the shared flag.
func (c *Coordinator) Stop() {
	if !c.stopping.CompareAndSwap(false, true) {
		return
	}
	log := logger.WithComponent("coordinator")

	c.mu.Lock()
	workers := append([]*worker(nil), c.workers...)
	c.mu.Unlock()

	for _, w := range workers {
		if err := terminate(w.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Warn().Err(err).Str("role", w.role).Msg("Failed to signal worker")
		}
	}

	timeout := time.NewTimer(c.opts.StopTimeout)
	defer timeout.Stop()
	expired := false
	for _, w := range workers {
		if !expired {
			select {
			case <-w.done:
				continue
			case <-timeout.C:
				expired = true
			}
		}
		select {
		case <-w.done:
			continue
		default:
		}
		log.Warn().Str("role", w.role).Msg("Worker did not stop in time, killing")
		_ = w.cmd.Process.Kill()
		<-w.done
	}

	if c.flag != nil {
		if err := c.flag.Remove(); err != nil {
			log.Warn().Err(err).Msg("Failed to remove shared flag")
		}
	}
	log.Info().Msg("All workers stopped")
}
