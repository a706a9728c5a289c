package services

import (
	"bufio"
	"bytes"
	"strings"
)

const serviceSuffix = ".service"

// unitStatus maps a systemd unit state pair onto a service status. Only an
// active unit whose sub-state is running counts as running.
func unitStatus(activeState, subState string) Status {
	if activeState == "active" && subState == "running" {
		return StatusRunning
	}
	return StatusStopped
}

// parseSystemctl reads the output of
// "systemctl list-units --type=service --all --no-legend --plain", whose
// rows are "UNIT LOAD ACTIVE SUB DESCRIPTION...".
func parseSystemctl(out []byte) map[string]Status {
	services := make(map[string]Status)

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// Failed units are prefixed with a bullet even in plain mode on some versions.
		if len(fields) > 0 && (fields[0] == "●" || fields[0] == "*") {
			fields = fields[1:]
		}
		if len(fields) < 4 || !strings.HasSuffix(fields[0], serviceSuffix) {
			continue
		}
		name := strings.TrimSuffix(fields[0], serviceSuffix)
		services[name] = unitStatus(fields[2], fields[3])
	}
	return services
}
