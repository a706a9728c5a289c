//go:build unix

// Package daemon runs the agent as a POSIX daemon: it enforces a single
// instance through the pid file, drops privileges, detaches from the
// terminal and supervises the workers until one of them fails or a
// termination signal arrives.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"hostagent/internal/logger"
)

const (
	pollInterval     = time.Second
	stopPollInterval = 250 * time.Millisecond
	stopPolls        = 10
)

// Workers is the set of processes run by the daemon.
type Workers interface {
	Start(ctx context.Context) error
	// Failed reports whether a worker raised the shared error flag.
	Failed() bool
	Stop()
}

// Options configures a Daemon.
type Options struct {
	PidFile string
	User    string // name or numeric uid
	Group   string // name or numeric gid
	Logging logger.Config
	// Foreground skips detaching from the terminal.
	Foreground bool
}

// Daemon drives the lifecycle of the agent process.
type Daemon struct {
	opts     Options
	uid, gid int
	log      zerolog.Logger

	mu    sync.Mutex
	phase Phase

	pollInterval time.Duration
	exit         func(int)
	notify       func(chan<- os.Signal, ...os.Signal)
}

// New returns a daemon for opts. The target identity is resolved only when
// running as root; otherwise the daemon keeps the current identity.
func New(opts Options) (*Daemon, error) {
	d := &Daemon{
		opts:         opts,
		uid:          os.Getuid(),
		gid:          os.Getgid(),
		pollInterval: pollInterval,
		exit:         os.Exit,
		notify:       signal.Notify,
	}
	if os.Geteuid() == 0 && opts.User != "" {
		uid, gid, err := lookupIdentity(opts.User, opts.Group)
		if err != nil {
			return nil, lifecycleErr("resolve-identity", err)
		}
		d.uid, d.gid = uid, gid
	}
	return d, nil
}

// Phase returns the current lifecycle phase.
func (d *Daemon) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

func (d *Daemon) setPhase(p Phase) {
	d.mu.Lock()
	d.phase = p
	d.mu.Unlock()
	d.log.Debug().Str("phase", p.String()).Msg("Daemon phase")
}

// Start runs the daemon until the context is cancelled, a termination
// signal arrives or a worker fails. The pid file is removed on every exit
// path once it has been written.
func (d *Daemon) Start(ctx context.Context, workers Workers) error {
	// 1. Refuse to run next to a live instance, before touching anything.
	if err := d.checkPid(); err != nil {
		return err
	}
	d.setPhase(PhaseCheckedPid)

	// 2. Signals.
	sigCh := make(chan os.Signal, 1)
	d.notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	// 3. Directories.
	if err := d.prepareDirs(); err != nil {
		return lifecycleErr("prepare-dirs", err)
	}
	d.setPhase(PhaseDirsPrepared)

	// 4. Logging, so that everything below is logged.
	if err := d.startLogging(); err != nil {
		return lifecycleErr("start-logging", err)
	}
	d.log = logger.WithComponent("daemon")
	d.setPhase(PhaseLoggingStarted)

	if err := d.setup(); err != nil {
		d.log.Error().Err(err).Msg("Failed to start")
		return err
	}

	// 10. Only now is the pid of the long-running process known.
	if err := WritePid(d.opts.PidFile, os.Getpid()); err != nil {
		err = lifecycleErr("write-pid", err)
		d.log.Error().Err(err).Msg("Failed to start")
		return err
	}
	d.setPhase(PhasePidWritten)

	// 12.
	defer func() {
		if err := removePid(d.opts.PidFile); err != nil {
			d.log.Error().Err(err).Str("pidfile", d.opts.PidFile).Msg("Failed to remove pid file")
		}
		d.setPhase(PhasePidRemoved)
		d.setPhase(PhaseStopped)
		d.log.Info().Msg("Daemon stopped")
	}()

	// 11.
	return d.run(ctx, workers, sigCh)
}

// setup runs steps 5 to 9.
func (d *Daemon) setup() error {
	if err := d.setupRoot(); err != nil {
		return lifecycleErr("setup-root", err)
	}
	d.setPhase(PhaseRootSetupDone)

	if err := d.dropPrivileges(); err != nil {
		return lifecycleErr("drop-privileges", err)
	}
	d.setPhase(PhasePrivilegeDropped)

	if !pidfileWritable(d.opts.PidFile) {
		return lifecycleErr("check-pidfile", fmt.Errorf("%s: %w", d.opts.PidFile, ErrPidfileNotWritable))
	}
	d.setPhase(PhasePidfileWritable)

	// Nothing to do for the unprivileged user yet; the phase is kept so that
	// detaching always follows it.
	d.setPhase(PhaseUserSetupDone)

	if !d.opts.Foreground {
		if err := d.detach(); err != nil {
			return lifecycleErr("detach", err)
		}
	}
	d.setPhase(PhaseDaemonized)
	return nil
}

func (d *Daemon) run(ctx context.Context, workers Workers, sigCh <-chan os.Signal) error {
	if err := workers.Start(ctx); err != nil {
		d.setPhase(PhaseStopping)
		return lifecycleErr("start-workers", err)
	}
	d.setPhase(PhaseRunning)
	d.log.Info().Msg("Daemon started")

	defer func() {
		d.setPhase(PhaseStopping)
		workers.Stop()
	}()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("Context cancelled, stopping")
			return nil
		case sig := <-sigCh:
			d.log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			return nil
		case <-ticker.C:
			if workers.Failed() {
				d.log.Error().Msg("A worker reported a failure, stopping")
				return lifecycleErr("run", ErrWorkerFailed)
			}
		}
	}
}

func (d *Daemon) checkPid() error {
	pid, err := ReadPid(d.opts.PidFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return lifecycleErr("check-pid", err)
	}

	alive, err := processAlive(pid)
	if err != nil {
		return lifecycleErr("check-pid", fmt.Errorf("check process %d from %s: %w", pid, d.opts.PidFile, err))
	}
	if alive {
		return lifecycleErr("check-pid", fmt.Errorf("pid %d: %w", pid, ErrAlreadyRunning))
	}
	// stale
	if err := removePid(d.opts.PidFile); err != nil {
		return lifecycleErr("check-pid", err)
	}
	return nil
}

func (d *Daemon) prepareDirs() error {
	for _, fn := range []string{d.opts.PidFile, d.opts.Logging.FilePath} {
		if fn == "" {
			continue
		}
		dir := filepath.Dir(fn)
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := d.chown(dir); err != nil {
			return err
		}
	}
	return nil
}

// startLogging initializes the logger and hands the log file to the daemon
// identity so it stays writable after the drop.
func (d *Daemon) startLogging() error {
	if err := logger.Init(d.opts.Logging); err != nil {
		return err
	}
	if fn := d.opts.Logging.FilePath; fn != "" {
		f, err := os.OpenFile(fn, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		f.Close()
		if err := d.chown(fn); err != nil {
			return err
		}
	}
	return nil
}
