package observ

import "testing"

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("production", "debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected a logger")
	}
	if !logger.Core().Enabled(-1) {
		t.Error("debug level should be enabled")
	}
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("development", "not-a-level")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(-1) {
		t.Error("debug should be disabled when level falls back to info")
	}
	if !logger.Core().Enabled(0) {
		t.Error("info level should be enabled")
	}
}
