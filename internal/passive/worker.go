// Package passive implements the passive worker: a one second tick loop
// that evaluates scheduled checks and hands them to the configured
// handlers.
package passive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"hostagent/internal/config"
	"hostagent/internal/handler"
	"hostagent/internal/logger"
	"hostagent/internal/storage"
)

const (
	tickInterval = time.Second
	// DefaultMaintenanceInterval is how often check history is pruned.
	DefaultMaintenanceInterval = 24 * time.Hour
)

// Flag is the cross-process error flag shared with the coordinator.
type Flag interface {
	Set()
	IsSet() bool
}

// Store records check history. A nil Store disables history.
type Store interface {
	RecordCheck(ctx context.Context, r storage.Record) (int64, error)
	Maintain(ctx context.Context, retentionDays int) (int, error)
}

// Options configures a Worker.
type Options struct {
	Config        config.PassiveConfig
	RetentionDays int
	Schedule      *Schedule
	Handlers      []handler.Handler
	Store         Store
	Flag          Flag
	Clock         clock.Clock
	// MaintenanceInterval defaults to DefaultMaintenanceInterval.
	MaintenanceInterval time.Duration
}

// Worker is the passive worker.
type Worker struct {
	cfg           config.PassiveConfig
	retentionDays int
	schedule      *Schedule
	handlers      []handler.Handler
	store         Store
	flag          Flag
	clock         clock.Clock
	maintenance   time.Duration
}

// New creates a passive worker.
func New(opts Options) *Worker {
	c := opts.Clock
	if c == nil {
		c = clock.New()
	}
	maintenance := opts.MaintenanceInterval
	if maintenance <= 0 {
		maintenance = DefaultMaintenanceInterval
	}
	return &Worker{
		cfg:           opts.Config,
		retentionDays: opts.RetentionDays,
		schedule:      opts.Schedule,
		handlers:      opts.Handlers,
		store:         opts.Store,
		flag:          opts.Flag,
		clock:         c,
		maintenance:   maintenance,
	}
}

// Run blocks until ctx is done, the error flag is set, or a handler fails.
// A handler failure sets the flag and is returned. Handlers are closed
// before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	log := logger.WithComponent("passive")
	defer func() {
		if err := handler.CloseAll(w.handlers); err != nil {
			log.Warn().Err(err).Msg("Failed to close handlers")
		}
	}()

	if w.cfg.DelayStart > 0 {
		log.Info().Dur("delay", w.cfg.DelayStart).Msg("Delaying passive start")
		select {
		case <-ctx.Done():
			return nil
		case <-w.clock.After(w.cfg.DelayStart):
		}
	}

	names := make([]string, 0, len(w.handlers))
	for _, h := range w.handlers {
		names = append(names, h.Name())
	}
	log.Info().
		Strs("handlers", names).
		Int("checks", w.schedule.Len()).
		Msg("Passive worker started")

	w.maintain(ctx)
	lastMaintenance := w.clock.Now()

	ticker := w.clock.Ticker(tickInterval)
	defer ticker.Stop()

	for {
		if w.flag.IsSet() {
			log.Info().Msg("Error flag set, stopping passive worker")
			return nil
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("Passive worker stopped")
			return nil
		case ts := <-ticker.C:
			if w.flag.IsSet() {
				continue
			}
			if ts.Sub(lastMaintenance) >= w.maintenance {
				w.maintain(ctx)
				lastMaintenance = ts
			}
			if err := w.tick(ctx, ts); err != nil {
				log.Error().Err(err).Msg("Passive handler failed, setting error flag")
				w.flag.Set()
				return err
			}
		}
	}
}

func (w *Worker) tick(ctx context.Context, ts time.Time) error {
	recs := w.schedule.Evaluate(ctx, ts)
	w.record(ctx, recs)

	for _, h := range w.handlers {
		if err := w.runHandler(ctx, h, ts); err != nil {
			return fmt.Errorf("handler %s: %w", h.Name(), err)
		}
	}
	return nil
}

func (w *Worker) runHandler(ctx context.Context, h handler.Handler, ts time.Time) error {
	timeout := w.cfg.HandlerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := h.Run(hctx, ts)
	if err == nil || ctx.Err() != nil {
		return nil
	}
	if errors.Is(hctx.Err(), context.DeadlineExceeded) {
		log := logger.WithComponent("passive")
		log.Warn().
			Str("handler", h.Name()).
			Dur("timeout", timeout).
			Msg("Handler run timed out")
		return nil
	}
	return err
}

func (w *Worker) record(ctx context.Context, recs []handler.CheckRecord) {
	if w.store == nil {
		return
	}
	log := logger.WithComponent("passive")
	for _, rec := range recs {
		_, err := w.store.RecordCheck(ctx, storage.Record{
			Source:     storage.SourcePassive,
			Path:       rec.Path,
			Query:      rec.Query,
			Returncode: rec.Returncode,
			Stdout:     rec.Stdout,
			CreatedAt:  rec.Timestamp,
		})
		if err != nil {
			log.Warn().Err(err).Str("path", rec.Path).Msg("Failed to record check")
		}
	}
}

func (w *Worker) maintain(ctx context.Context) {
	if w.store == nil {
		return
	}
	log := logger.WithComponent("passive")
	deleted, err := w.store.Maintain(ctx, w.retentionDays)
	if err != nil {
		log.Warn().Err(err).Msg("Storage maintenance failed")
		return
	}
	log.Debug().Int("deleted", deleted).Msg("Storage maintenance done")
}
