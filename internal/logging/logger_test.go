// Package logging includes tests for the zap logger helpers.
package logging

import (
	"testing"

	"go.uber.org/zap"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true, "")
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Fatal("development logger should enable debug")
	}
}

// TestNewLevelOverride ensures an explicit level narrows the preset.
func TestNewLevelOverride(t *testing.T) {
	t.Parallel()

	logger, err := New(true, "warn")
	if err != nil {
		t.Fatalf("New(true, warn) error = %v", err)
	}
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Fatal("info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zap.ErrorLevel) {
		t.Fatal("error should be enabled at warn level")
	}
}

// TestNewRejectsUnknownLevel surfaces configuration mistakes.
func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New(false, "chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if logger := Must(false, "chatty"); logger == nil {
		t.Fatal("Must should fall back to a usable logger")
	}
}
