package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func newTestLogger(t *testing.T, level slog.Level) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})
	return New(slog.New(h)), &buf
}

func TestLoggerCarriesAttrs(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelDebug)
	l.WithComponent("client").
		WithRegistration(42).
		WithStream("aeron:ipc", 7).
		Debug("registration ready", "state", "ready")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	checks := map[string]any{
		"msg":             "registration ready",
		"component":       "client",
		"registration_id": float64(42),
		"channel":         "aeron:ipc",
		"stream_id":       float64(7),
		"state":           "ready",
	}
	for k, want := range checks {
		if got := rec[k]; got != want {
			t.Errorf("%s = %v, want %v", k, got, want)
		}
	}
}

func TestLoggerLevelFilters(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelWarn)
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
	l.WithError(errors.New("boom")).Warn("visible")
	if !bytes.Contains(buf.Bytes(), []byte(`"error":"boom"`)) {
		t.Fatalf("missing error attr: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithErrorNil(t *testing.T) {
	l := Discard()
	if got := l.WithError(nil); got != l {
		t.Fatal("WithError(nil) should return the receiver")
	}
}
