package main

import (
	"path/filepath"
	"testing"

	"hostagent/internal/config"
	"hostagent/internal/logger"
)

func TestAbsolute(t *testing.T) {
	base := t.TempDir()
	abs := filepath.Join(base, "x.json")

	if got := absolute(base, abs); got != abs {
		t.Errorf("expected absolute path unchanged, got %q", got)
	}
	if got := absolute(base, "etc/hostagent.json"); got != filepath.Join(base, "etc", "hostagent.json") {
		t.Errorf("unexpected resolved path %q", got)
	}
	if got := absolute(base, ""); got != "" {
		t.Errorf("expected empty path to stay empty, got %q", got)
	}
}

func TestApplyDebug(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Listener.DelayStart = 5
	lc := logger.DefaultConfig()

	applyDebug(cfg, &lc)

	if cfg.Listener.Port != config.DebugPort {
		t.Errorf("expected Port=%d, got %d", config.DebugPort, cfg.Listener.Port)
	}
	if cfg.Listener.DelayStart != 0 {
		t.Errorf("expected no listener delay, got %v", cfg.Listener.DelayStart)
	}
	if !lc.Console || lc.Level != "debug" {
		t.Errorf("expected console debug logging, got %+v", lc)
	}
}

func TestCoordinatorOptions_PassesAbsolutePaths(t *testing.T) {
	s := &settings{
		configPath:  "/opt/hostagent/etc/hostagent.json",
		overlayDir:  "/opt/hostagent/etc/hostagent.d",
		loggingPath: "/opt/hostagent/etc/Logging.json",
	}

	opts := coordinatorOptions(s, true, false, "--debug")

	want := []string{
		"--config", s.configPath,
		"--config-dir", s.overlayDir,
		"--logging", s.loggingPath,
		"--debug",
	}
	if len(opts.Args) != len(want) {
		t.Fatalf("expected args %v, got %v", want, opts.Args)
	}
	for i := range want {
		if opts.Args[i] != want[i] {
			t.Errorf("arg %d: expected %q, got %q", i, want[i], opts.Args[i])
		}
	}
	if !opts.ListenerOnly || opts.PassiveOnly {
		t.Errorf("unexpected role selection %+v", opts)
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"start", "stop", "status", "debug", "worker", "version"} {
		if cmd, _, err := rootCmd.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("expected command %q to be registered", name)
		}
	}
}
