//go:build !windows

package service

// ReportStartupError is a no-op outside Windows: the startup error file and
// stderr are the only channels.
func ReportStartupError(err error) {}
