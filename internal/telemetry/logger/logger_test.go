package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, level, format string) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(Config{Level: level, Format: format, Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l, &buf
}

func TestLogger_Levels(t *testing.T) {
	l, buf := newBufferLogger(t, "debug", "json")

	tests := []struct {
		level   string
		logFunc func(string, ...any)
	}{
		{"DEBUG", l.Debug},
		{"INFO", l.Info},
		{"WARN", l.Warn},
		{"ERROR", l.Error},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf.Reset()
			tt.logFunc("test message", "component", "sync")

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("Failed to parse JSON log: %v", err)
			}
			if entry["level"] != tt.level {
				t.Errorf("level = %v, want %s", entry["level"], tt.level)
			}
			if entry["msg"] != "test message" {
				t.Errorf("msg = %v", entry["msg"])
			}
			if entry["component"] != "sync" {
				t.Errorf("component = %v", entry["component"])
			}
		})
	}
}

func TestLogger_With(t *testing.T) {
	l, buf := newBufferLogger(t, "info", "json")

	l.With("project", "shop").Info("pushed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}
	if entry["project"] != "shop" {
		t.Errorf("project = %v, want shop", entry["project"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(t, "warn", "json")

	l.Debug("debug message")
	l.Info("info message")
	if buf.Len() > 0 {
		t.Error("Debug/Info messages should be filtered when level is warn")
	}

	l.Warn("warn message")
	if buf.Len() == 0 {
		t.Error("Warn message should be logged")
	}
}

func TestLogger_IndependentLevels(t *testing.T) {
	quiet, quietBuf := newBufferLogger(t, "error", "json")
	verbose, verboseBuf := newBufferLogger(t, "debug", "json")

	quiet.Info("dropped")
	verbose.Debug("kept")

	if quietBuf.Len() > 0 {
		t.Error("error-level logger should drop info")
	}
	if verboseBuf.Len() == 0 {
		t.Error("a second logger must not change the level of the first")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"", slog.LevelInfo, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("New() with an unknown level should fail")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("New() with an unknown format should fail")
	}
}

func TestDefault(t *testing.T) {
	l, buf := newBufferLogger(t, "debug", "json")
	previous := Default()
	SetDefault(l)
	defer SetDefault(previous)

	Default().Info("via default")
	if !strings.Contains(buf.String(), "via default") {
		t.Errorf("Default() did not use the logger passed to SetDefault: %q", buf.String())
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Error("dropped")
	l.With("k", "v").Info("dropped")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != "warn" {
		t.Errorf("DefaultConfig().Level = %q, want warn", cfg.Level)
	}
	if cfg.Format != "text" {
		t.Errorf("DefaultConfig().Format = %q, want text", cfg.Format)
	}
	if cfg.Output == nil {
		t.Error("DefaultConfig().Output should not be nil")
	}
}

func TestLogger_TextFormat(t *testing.T) {
	l, buf := newBufferLogger(t, "info", "text")

	l.Info("test message", "component", "poller")

	output := buf.String()
	if !strings.Contains(output, "test message") || !strings.Contains(output, "component=poller") {
		t.Errorf("unexpected text output: %s", output)
	}
}
