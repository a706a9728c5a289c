//go:build windows

package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sys/windows/svc"

	"hostagent/internal/logger"
)

const (
	startWaitHint = 10 * time.Second
	stopWait      = 30 * time.Second

	// exitWorkerFailed is the service-specific exit code reported to the
	// service control manager when the supervised workers fail.
	exitWorkerFailed = 1
)

// WindowsService runs the supervisor under the service control manager,
// or in the foreground when started from a console.
type WindowsService struct {
	runFunc RunFunc
	opts    options
	parent  context.Context

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// NewService returns the service for runFunc.
func NewService(runFunc RunFunc, opts ...Option) Service {
	s := &WindowsService{runFunc: runFunc}
	for _, opt := range opts {
		opt(&s.opts)
	}
	return s
}

// Run blocks until the service is stopped by the service control manager
// or, interactively, by a signal.
func (s *WindowsService) Run(ctx context.Context) error {
	if !s.IsService() {
		return newForeground(s.runFunc, s.opts).Run(ctx)
	}
	s.parent = ctx
	return svc.Run(Name, s)
}

// Stop cancels the supervisor.
func (s *WindowsService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil && !s.stopped {
		s.stopped = true
		s.cancel()
	}
	return nil
}

// IsService reports whether the process was started by the service
// control manager.
func (s *WindowsService) IsService() bool {
	isService, err := svc.IsWindowsService()
	return err == nil && isService
}

// Execute implements svc.Handler.
func (s *WindowsService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	log := logger.WithComponent("windows-service")
	changes <- svc.Status{State: svc.StartPending, WaitHint: uint32(startWaitHint / time.Millisecond)}

	parent := s.parent
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.runFunc(ctx) }()

	running := svc.Status{State: svc.Running, Accepts: svc.AcceptStop | svc.AcceptShutdown}
	changes <- running
	log.Info().Msg("Service started")

	for {
		select {
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				log.Info().Msg("Stop requested by the service control manager")
				s.Stop()
				s.waitStopped(changes, done)
				changes <- svc.Status{State: svc.Stopped}
				return false, 0
			default:
				log.Warn().Uint32("cmd", uint32(c.Cmd)).Msg("Unexpected service control request")
			}

		case err := <-done:
			changes <- svc.Status{State: svc.Stopped}
			if err != nil {
				log.Error().Err(err).Msg("Supervisor stopped with error")
				ReportStartupError(err)
				return true, exitWorkerFailed
			}
			return false, 0
		}
	}
}

// waitStopped reports stop progress to the service control manager until
// the supervisor returns or stopWait runs out.
func (s *WindowsService) waitStopped(changes chan<- svc.Status, done <-chan error) {
	log := logger.WithComponent("windows-service")
	deadline := time.NewTimer(stopWait)
	defer deadline.Stop()
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	var checkpoint uint32
	for {
		checkpoint++
		changes <- svc.Status{
			State:      svc.StopPending,
			CheckPoint: checkpoint,
			WaitHint:   uint32(2 * time.Second / time.Millisecond),
		}
		select {
		case <-done:
			return
		case <-deadline.C:
			log.Warn().Dur("wait", stopWait).Msg("Workers did not stop in time")
			return
		case <-tick.C:
		}
	}
}
