package main

import (
	"context"
	"errors"
	"time"

	"hostagent/internal/coordinator"
	"hostagent/internal/logger"
)

var errWorkerFailed = errors.New("a worker failed")

// supervise runs the workers outside the daemon: under the Windows service
// manager and in debug mode.
func supervise(ctx context.Context, coord *coordinator.Coordinator) error {
	log := logger.WithComponent("supervisor")

	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer coord.Stop()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping workers")
			return nil
		case <-ticker.C:
			if coord.Failed() {
				log.Error().Msg("A worker reported a failure, stopping")
				return errWorkerFailed
			}
		}
	}
}

func coordinatorOptions(s *settings, listenerOnly, passiveOnly bool, extra ...string) coordinator.Options {
	return coordinator.Options{
		Args:         append(s.workerArgs(), extra...),
		ListenerOnly: listenerOnly,
		PassiveOnly:  passiveOnly,
	}
}
