//go:build windows

package coordinator

import "os"

// Windows has no SIGTERM for other processes.
func terminate(p *os.Process) error {
	return p.Kill()
}
