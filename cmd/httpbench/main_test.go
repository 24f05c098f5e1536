package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/weiihann/httpbench/config"
)

func TestLoadConfigFlagsOverride(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cmd := newRunCmd(logger, new(slog.LevelVar))

	t.Setenv("HTTPBENCH_WORKERS", "8")
	t.Setenv("HTTPBENCH_FORKS", "3")

	err := cmd.ParseFlags([]string{
		"--forks", "0",
		"--time", "2s",
		"--protocol", "h2c",
	})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	var opts runOptions
	opts.forks = 0
	opts.iterationTime = 2 * time.Second
	opts.protocol = config.ProtocolH2C

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.Forks != 0 {
		t.Errorf("forks = %d, want flag value 0", cfg.Forks)
	}
	if cfg.Workers != 8 {
		t.Errorf("workers = %d, want env value 8", cfg.Workers)
	}
	if cfg.Measurement.Duration != 2*time.Second {
		t.Errorf("time = %s, want 2s", cfg.Measurement.Duration)
	}
	if cfg.Server.Protocol != config.ProtocolH2C {
		t.Errorf("protocol = %q, want h2c", cfg.Server.Protocol)
	}
	if cfg.Warmup.Iterations != 2 {
		t.Errorf("warmup iterations = %d, want default 2",
			cfg.Warmup.Iterations)
	}
}

func TestLoadConfigRejectsInvalidFlag(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cmd := newRunCmd(logger, new(slog.LevelVar))

	if err := cmd.ParseFlags([]string{"--workers", "0"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	if _, err := loadConfig(cmd, runOptions{workers: 0}); err == nil {
		t.Error("expected validation error for zero workers")
	}
}

func TestSetLevel(t *testing.T) {
	level := new(slog.LevelVar)

	if err := setLevel(level, "debug"); err != nil {
		t.Fatalf("setLevel failed: %v", err)
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %s, want DEBUG", level.Level())
	}

	if err := setLevel(level, "verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}
