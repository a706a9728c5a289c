package main

import (
	"fmt"
	"os"
	"path/filepath"

	"hostagent/internal/config"
	"hostagent/internal/logger"
	"hostagent/internal/service"
)

// settings is the loaded configuration with every path made absolute.
type settings struct {
	baseDir     string
	configPath  string
	overlayDir  string
	loggingPath string
	cfg         *config.Config
	logging     *logger.Config
}

// installDir is the directory holding the binary's bin/ or the binary
// itself. Relative paths in flags and configuration resolve against it, so
// the working directory chosen by an init system does not matter.
func installDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	dir := filepath.Dir(exe)
	if filepath.Base(dir) == "bin" {
		return filepath.Dir(dir)
	}
	return dir
}

func absolute(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// loadSettings reads the configuration named by the global flags.
func loadSettings() (*settings, error) {
	base := installDir()
	s := &settings{
		baseDir:     base,
		configPath:  absolute(base, configPath),
		overlayDir:  absolute(base, overlayDir),
		loggingPath: absolute(base, loggingPath),
	}

	cfg, err := config.Load(s.configPath, s.overlayDir)
	if err != nil {
		return nil, err
	}
	cfg.ResolvePaths(base)
	s.cfg = cfg

	lc, err := config.LoadLogging(s.loggingPath)
	if err != nil {
		return nil, err
	}
	config.ResolveLoggingPath(lc, base)
	s.logging = lc

	return s, nil
}

// workerArgs are the global flags handed to worker processes.
func (s *settings) workerArgs() []string {
	return []string{
		"--config", s.configPath,
		"--config-dir", s.overlayDir,
		"--logging", s.loggingPath,
	}
}

func (s *settings) certDir() string {
	return filepath.Join(s.baseDir, "var")
}

// applyDebug forces the debug listener port and console logging.
func applyDebug(cfg *config.Config, lc *logger.Config) {
	cfg.Listener.Port = config.DebugPort
	cfg.Listener.DelayStart = 0
	cfg.Passive.DelayStart = 0
	lc.Console = true
	lc.Level = "debug"
}

var startupErrorDir = func() string {
	return filepath.Join(installDir(), "var", "log")
}

// reportStartupError makes a failure before logging is up visible.
func reportStartupError(err error) error {
	service.ReportStartupError(err)
	if path := service.WriteStartupErrorFile(startupErrorDir(), err); path != "" {
		return fmt.Errorf("%w (details in %s)", err, path)
	}
	return err
}
