package service

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"hostagent/internal/logger"
)

// ForegroundService runs the agent attached to the terminal and stops it on
// SIGINT, SIGTERM or, if configured, a line on stdin.
type ForegroundService struct {
	runFunc RunFunc
	opts    options
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
}

func newForeground(runFunc RunFunc, opts options) *ForegroundService {
	return &ForegroundService{runFunc: runFunc, opts: opts}
}

// Run starts the run function and handles signals for graceful shutdown.
// A second signal while stopping returns immediately.
func (s *ForegroundService) Run(ctx context.Context) error {
	log := logger.WithComponent("foreground")

	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	defer s.cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	enter := make(chan struct{})
	if s.opts.stopOnEnter != nil {
		go waitForLine(s.opts.stopOnEnter, enter)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.runFunc(ctx)
	}()

	log.Info().Bool("stop_on_enter", s.opts.stopOnEnter != nil).Msg("Running in foreground")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-enter:
		log.Info().Msg("Enter pressed, stopping")
	case err := <-done:
		return err
	}

	s.Stop()
	select {
	case err := <-done:
		return err
	case sig := <-sigChan:
		log.Warn().Str("signal", sig.String()).Msg("Received second signal, forcing exit")
		return nil
	}
}

func waitForLine(r io.Reader, enter chan<- struct{}) {
	if _, err := bufio.NewReader(r).ReadString('\n'); err == nil {
		close(enter)
	}
}

// Stop requests the service to stop.
func (s *ForegroundService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil && !s.stopped {
		s.stopped = true
		s.cancel()
	}
	return nil
}

// IsService reports whether stdin is not a terminal, which is the case
// under init systems.
func (s *ForegroundService) IsService() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) == 0
}
