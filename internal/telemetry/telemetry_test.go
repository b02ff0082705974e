package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for name, want := range tests {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogger(domain.LoggingConfig{Level: "info", Format: "json"}, &buf).Info("hello", "k", 1)

		var line map[string]any
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
		}
		if line["msg"] != "hello" {
			t.Errorf("unexpected msg: %v", line["msg"])
		}
	})

	t.Run("TextFiltersLevel", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(domain.LoggingConfig{Level: "warn", Format: "text"}, &buf)
		logger.Info("dropped")
		logger.Warn("kept")

		out := buf.String()
		if strings.Contains(out, "dropped") || !strings.Contains(out, "msg=kept") {
			t.Errorf("unexpected output: %q", out)
		}
	})
}

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), domain.TracingConfig{Enabled: true})
	if err != nil {
		t.Fatalf("SetupTracing failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown failed: %v", err)
	}
}
