//go:build windows

package service

import (
	"fmt"

	"golang.org/x/sys/windows/svc/eventlog"
)

// Event ids written by the agent.
const (
	eventStartupFailed = 1
)

// ReportStartupError records err in the Application event log under the
// service name. It is used before the log file exists, so failures of
// "sc start" can be diagnosed. Errors of the event log itself are ignored.
func ReportStartupError(err error) {
	// Fails harmlessly when the source is already registered.
	_ = eventlog.InstallAsEventCreate(Name, eventlog.Error|eventlog.Warning|eventlog.Info)

	el, openErr := eventlog.Open(Name)
	if openErr != nil {
		return
	}
	defer el.Close()

	_ = el.Error(eventStartupFailed, fmt.Sprintf("%s failed: %v", Name, err))
}
