package services

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strings"
)

// InitdProvider reads services from the SysV "service --status-all" listing.
type InitdProvider struct {
	run runner
}

func (p *InitdProvider) Name() string { return "initd" }

func (p *InitdProvider) Enumerate(ctx context.Context) (map[string]Status, error) {
	// service --status-all exits non-zero whenever one script reports a
	// stopped service.
	out, err := runTool(ctx, p.run, p.Name(), true, "service", "--status-all")
	if err != nil {
		return nil, err
	}
	return parseInitd(out), nil
}

var (
	// "[ + ]  cron" as printed by Debian's service(8)
	bracketLine = regexp.MustCompile(`^\[\s*([+?-])\s*\]\s+(\S+)`)
	// "Checking for service cron: running" as printed by SUSE, or a bare "name: status"
	colonLine = regexp.MustCompile(`^(?:Checking for (?:service )?)?([A-Za-z0-9_.@-]+)\s*:\s*(?i:(running|not running|unused|dead|stopped|failed|inactive))\.*$`)
	// "sshd (pid 1234) is running..." / "netconsole module not loaded" as printed by RHEL's service(8)
	sentenceLine = regexp.MustCompile(`^([A-Za-z0-9_.@-]+)\b.*\b(is running|is stopped|not running|not loaded|disabled|stopped|dead)`)
)

var stoppedKeywords = []string{"stopped", "not", "disabled", "dead"}

// parseInitd classifies each recognised line. Bracketed lines use their
// marker and "name: status" lines their status word. Other lines name the
// service first and are stopped when they mention any of the stopped
// keywords, running otherwise. Unrecognised lines are skipped.
func parseInitd(out []byte) map[string]Status {
	services := make(map[string]Status)

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if m := bracketLine.FindStringSubmatch(line); m != nil {
			if m[1] == "+" {
				services[m[2]] = StatusRunning
			} else {
				services[m[2]] = StatusStopped
			}
			continue
		}

		if m := colonLine.FindStringSubmatch(line); m != nil {
			if strings.EqualFold(m[2], "running") {
				services[m[1]] = StatusRunning
			} else {
				services[m[1]] = StatusStopped
			}
			continue
		}

		m := sentenceLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		status := StatusRunning
		rest := line[len(m[1]):]
		for _, kw := range stoppedKeywords {
			if strings.Contains(rest, kw) {
				status = StatusStopped
				break
			}
		}
		services[m[1]] = status
	}
	return services
}
