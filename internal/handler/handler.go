// Package handler provides the passive result handlers. A handler is run on
// every passive tick and pushes the check results that became due at that
// tick to its destination.
package handler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"hostagent/internal/config"
	"hostagent/internal/logger"
)

// Handler defines the interface every passive handler implements.
type Handler interface {
	// Name returns the name the handler is registered under.
	Name() string

	// Run pushes the results due at ts. ctx is bounded by the handler
	// timeout, and the timeout only takes effect through ctx: Run must
	// return once ctx is done or it holds up the passive loop.
	Run(ctx context.Context, ts time.Time) error

	// Close releases any resources held by the handler.
	Close() error
}

// CheckRecord is one evaluated passive check.
type CheckRecord struct {
	Host       string    `json:"host"`
	Service    string    `json:"service"`
	Path       string    `json:"path"`
	Query      string    `json:"query,omitempty"`
	Returncode int       `json:"returncode"`
	Stdout     string    `json:"stdout"`
	Timestamp  time.Time `json:"timestamp"`
}

// Source supplies the records evaluated for a tick.
type Source interface {
	Results(ts time.Time) []CheckRecord
}

// Deps carries what factories need besides the configuration.
type Deps struct {
	Source Source
}

// Factory builds a handler from the configuration.
type Factory func(cfg *config.Config, deps Deps) (Handler, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a factory available under name. Registering the same name
// twice replaces the earlier factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = f
}

// Registered returns the registered handler names, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the named handlers in order. Unknown names and handlers
// whose factory fails are logged and skipped.
func Build(names []string, cfg *config.Config, deps Deps) []Handler {
	log := logger.WithComponent("handler-factory")

	var handlers []Handler
	for _, name := range names {
		registryMu.RLock()
		f, ok := registry[strings.ToLower(name)]
		registryMu.RUnlock()

		if !ok {
			log.Warn().
				Str("handler", name).
				Strs("available", Registered()).
				Msg("Unknown handler, skipping")
			continue
		}

		h, err := f(cfg, deps)
		if err != nil {
			log.Error().Err(err).Str("handler", name).Msg("Failed to create handler, skipping")
			continue
		}

		log.Info().Str("handler", h.Name()).Msg("Handler created")
		handlers = append(handlers, h)
	}
	return handlers
}

// CloseAll closes every handler and returns the first error.
func CloseAll(handlers []Handler) error {
	var first error
	for _, h := range handlers {
		if err := h.Close(); err != nil && first == nil {
			first = fmt.Errorf("failed to close handler %s: %w", h.Name(), err)
		}
	}
	return first
}

func results(src Source, ts time.Time) []CheckRecord {
	if src == nil {
		return nil
	}
	return src.Results(ts)
}
