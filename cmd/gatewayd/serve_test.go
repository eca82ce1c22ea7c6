package main

import (
	"log/slog"
	"testing"
)

func TestNewLogger_ParsesKnownLevels(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"ERROR": slog.LevelError,
		"bogus": slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for input, want := range cases {
		logger := newLogger(input)
		if !logger.Enabled(nil, want) {
			t.Errorf("newLogger(%q): expected level %v to be enabled", input, want)
		}
	}
}

func TestRunServe_FailsFastOnMissingConfigFile(t *testing.T) {
	err := runServe("/nonexistent/gatewayd-config.yaml")
	if err == nil {
		t.Fatal("expected an error for a missing config file, got nil")
	}
}
