// Package service runs the agent in the foreground or under the Windows
// service control manager, and reports startup failures where an operator
// will find them.
package service

import (
	"context"
	"io"
)

// Name is the service name registered with the platform.
const Name = "hostagent"

// Service defines the interface for platform-specific service management.
type Service interface {
	// Run starts the service. It blocks until the service is stopped.
	Run(ctx context.Context) error

	// Stop requests the service to stop.
	Stop() error

	// IsService returns true if running under a service manager.
	IsService() bool
}

// RunFunc is the main function that runs the agent logic.
type RunFunc func(ctx context.Context) error

type options struct {
	stopOnEnter io.Reader
}

// Option customises NewService.
type Option func(*options)

// StopOnEnter makes an interactive run stop when a line is read from r.
// Debug mode passes os.Stdin.
func StopOnEnter(r io.Reader) Option {
	return func(o *options) { o.stopOnEnter = r }
}
