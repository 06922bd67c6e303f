package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_RejectsUnknownFormat(t *testing.T) {
	if _, err := New("info", "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNew_ConsoleDebug(t *testing.T) {
	l, err := New("debug", "console")
	if err != nil {
		t.Fatalf("New returned err: %v", err)
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}
}
