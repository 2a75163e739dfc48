package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewWritesServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "fleet-tracker", "info")

	log.Debug("hidden")
	log.Info("trip subscription open", "action", "trip_subscribed", "trip_id", "t-1")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"service": "fleet-tracker",
		"message": "trip subscription open",
		"action":  "trip_subscribed",
		"trip_id": "t-1",
		"level":   "INFO",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %q", key, entry[key], want)
		}
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Errorf("timestamp missing: %v", entry)
	}
	if _, ok := entry["hostname"]; !ok {
		t.Errorf("hostname missing: %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
