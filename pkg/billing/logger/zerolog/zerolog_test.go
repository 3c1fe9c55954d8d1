package zerolog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/titanstack/titan-billing/pkg/billing"
)

func TestNewLogger(t *testing.T) {
	output := bytes.Buffer{}
	zlog := zerolog.New(&output)
	logger := NewLogger(zlog)

	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(l *Logger)
		level string
	}{
		{"debug", func(l *Logger) { l.Debug("test message") }, "debug"},
		{"info", func(l *Logger) { l.Info("test message") }, "info"},
		{"warn", func(l *Logger) { l.Warn("test message") }, "warn"},
		{"error", func(l *Logger) { l.Error("test message") }, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := bytes.Buffer{}
			logger := NewLogger(zerolog.New(&output))

			tt.log(logger)

			var entry map[string]interface{}
			if err := json.Unmarshal(output.Bytes(), &entry); err != nil {
				t.Fatalf("Failed to decode log line %q: %v", output.String(), err)
			}
			if entry["level"] != tt.level {
				t.Errorf("Expected level %s, got %v", tt.level, entry["level"])
			}
			if entry["message"] != "test message" {
				t.Errorf("Expected message, got %v", entry["message"])
			}
		})
	}
}

func TestLogger_Fields(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Info("event received",
		billing.Field{Key: "event_id", Value: "evt_1"},
		billing.Field{Key: "attempt", Value: 3})

	var entry map[string]interface{}
	if err := json.Unmarshal(output.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log line: %v", err)
	}
	if entry["event_id"] != "evt_1" {
		t.Errorf("Expected event_id field, got %v", entry["event_id"])
	}
	if entry["attempt"] != float64(3) {
		t.Errorf("Expected attempt field, got %v", entry["attempt"])
	}
}
