package services

import (
	"bufio"
	"bytes"
	"context"
	"strings"
)

// LaunchctlProvider reads services from launchd.
type LaunchctlProvider struct {
	run runner
}

func (p *LaunchctlProvider) Name() string { return "launchctl" }

func (p *LaunchctlProvider) Enumerate(ctx context.Context) (map[string]Status, error) {
	out, err := runTool(ctx, p.run, p.Name(), false, "launchctl", "list")
	if err != nil {
		return nil, err
	}
	return parseLaunchctl(out), nil
}

// parseLaunchctl reads "PID Status Label" rows. A "-" pid marks a stopped
// job and a "-" status marks a running one. Rows carrying neither sentinel
// are not reported.
func parseLaunchctl(out []byte) map[string]Status {
	services := make(map[string]Status)

	scanner := bufio.NewScanner(bytes.NewReader(out))
	header := true
	for scanner.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 {
			continue
		}
		pid, status, label := fields[0], fields[1], fields[2]
		switch {
		case pid == "-":
			services[label] = StatusStopped
		case status == "-":
			services[label] = StatusRunning
		}
	}
	return services
}
