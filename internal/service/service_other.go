//go:build !windows

package service

// NewService creates a foreground service.
func NewService(runFunc RunFunc, opts ...Option) Service {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return newForeground(runFunc, o)
}
