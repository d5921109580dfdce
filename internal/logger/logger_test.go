package logger

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewPlainLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewPlainLogger(&buf, false)
	l.Debug("hidden")
	l.Info("relay starting", zap.String("model", "yandexgpt-lite"))
	_ = l.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug entry written at info level: %s", out)
	}
	if !strings.Contains(out, "INFO") || !strings.Contains(out, "yandexgpt-lite") {
		t.Errorf("missing info entry: %s", out)
	}
}

func TestNewPlainLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	l := NewPlainLogger(&buf, true)
	l.Debug("window assembled")
	_ = l.Sync()
	if !strings.Contains(buf.String(), "window assembled") {
		t.Errorf("expected debug entry, got %q", buf.String())
	}
}
