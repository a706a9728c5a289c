package service

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const startupErrorFile = "startup-error.log"

// WriteStartupErrorFile records err in dir/startup-error.log, replacing any
// earlier record, and returns the file path. Failures to write are ignored.
func WriteStartupErrorFile(dir string, err error) string {
	_ = os.MkdirAll(dir, 0755)

	path := filepath.Join(dir, startupErrorFile)
	f, ferr := os.Create(path)
	if ferr != nil {
		return ""
	}
	defer f.Close()

	ts := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(f, "[%s] pid %d STARTUP ERROR\n%v\n", ts, os.Getpid(), err)
	return path
}

// ClearStartupErrorFile removes a stale startup error record after a
// successful start.
func ClearStartupErrorFile(dir string) {
	_ = os.Remove(filepath.Join(dir, startupErrorFile))
}
