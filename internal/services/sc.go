package services

import (
	"bufio"
	"bytes"
	"context"
	"strings"
)

// SCProvider reads services from the Windows service control tool.
type SCProvider struct {
	run runner
}

func (p *SCProvider) Name() string { return "sc" }

func (p *SCProvider) Enumerate(ctx context.Context) (map[string]Status, error) {
	out, err := runTool(ctx, p.run, p.Name(), false, "sc", "query", "type=", "service", "state=", "all")
	if err != nil {
		return nil, err
	}
	return parseSC(out), nil
}

// parseSC reads "SERVICE_NAME: x" / "STATE : 4 RUNNING" pairs. A STATE line
// seen before any SERVICE_NAME line is ignored.
func parseSC(out []byte) map[string]Status {
	services := make(map[string]Status)
	var current string

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "SERVICE_NAME"):
			if _, name, ok := strings.Cut(line, " "); ok {
				current = strings.TrimSpace(name)
			}
		case strings.HasPrefix(line, "STATE"):
			if current == "" {
				continue
			}
			if strings.Contains(line, "RUNNING") {
				services[current] = StatusRunning
			} else {
				services[current] = StatusStopped
			}
		}
	}
	return services
}
