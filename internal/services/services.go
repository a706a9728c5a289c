// Package services enumerates operating-system services and their run state.
//
// One Provider variant is selected per process by Detect. Every call to
// Enumerate returns a freshly built map; nothing is cached between queries.
package services

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"hostagent/internal/logger"
)

// Status is the run state of a service.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// commandTimeout bounds a single invocation of a listing tool.
const commandTimeout = 30 * time.Second

// Provider enumerates services on the running host.
type Provider interface {
	Name() string
	Enumerate(ctx context.Context) (map[string]Status, error)
}

// ProviderError reports an unexpected failure of a provider. It is local to
// the query that triggered it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// runner executes a command and returns its standard output.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).Output()
}

// runTool runs a listing tool. A missing tool is not an error: the caller
// gets nil output and reports an empty enumeration. With tolerateExit set, a
// non-zero exit status that still produced output is accepted.
func runTool(ctx context.Context, run runner, provider string, tolerateExit bool, name string, args ...string) ([]byte, error) {
	out, err := run(ctx, name, args...)
	if err == nil {
		return out, nil
	}
	var exitErr *exec.ExitError
	if tolerateExit && errors.As(err, &exitErr) && len(out) > 0 {
		return out, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		log := logger.WithComponent("services")
		log.Warn().
			Str("provider", provider).
			Str("tool", name).
			Msg("Service listing tool not found, reporting no services")
		return nil, nil
	}
	return nil, &ProviderError{Provider: provider, Err: fmt.Errorf("%s: %w", name, err)}
}

var (
	detectOnce sync.Once
	detected   Provider
)

// Detect returns the provider for this host. Detection runs once per process.
func Detect() Provider {
	detectOnce.Do(func() {
		detected = detectProvider(exec.LookPath)
		log := logger.WithComponent("services")
		log.Debug().
			Str("provider", detected.Name()).
			Msg("Service provider selected")
	})
	return detected
}

// Filter narrows an enumeration by requested names and statuses. An entry
// is kept when its name is requested or its status is requested. With no
// names and no statuses the enumeration is returned unchanged.
func Filter(all map[string]Status, names, statuses []string) map[string]Status {
	if len(names) == 0 && len(statuses) == 0 {
		return all
	}

	nameSet := make(map[string]struct{}, len(names))
	for _, n := range names {
		nameSet[n] = struct{}{}
	}
	statusSet := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		statusSet[s] = struct{}{}
	}

	accepted := make(map[string]Status)
	for name, status := range all {
		_, byName := nameSet[name]
		_, byStatus := statusSet[string(status)]
		if byName || byStatus {
			accepted[name] = status
		}
	}
	return accepted
}
