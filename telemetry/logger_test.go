package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/forgeline/latentpool/types"
)

// captureLogger writes into a buffer so tests can decode the entries.
func captureLogger(buf *bytes.Buffer) *Logger {
	logger := zerolog.New(buf).
		With().
		Str("service", "test").
		Logger().
		Hook(OTELHook{})
	return &Logger{Logger: logger}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to decode log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLogAdvisories(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	advisories := []types.Advisory{
		{Field: "keypair_name", Default: "latent-worker", Message: "default substituted"},
		{Field: "security_name", Default: "latent-worker", Message: "default substituted"},
	}
	logger.LogAdvisories(context.Background(), "linux-large", advisories)

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry["level"] != "warn" {
			t.Errorf("entry %d level = %v, want warn", i, entry["level"])
		}
		if entry["worker"] != "linux-large" {
			t.Errorf("entry %d worker = %v", i, entry["worker"])
		}
	}
	if entries[0]["field"] != "keypair_name" || entries[1]["field"] != "security_name" {
		t.Errorf("advisory fields = %v, %v", entries[0]["field"], entries[1]["field"])
	}
}

func TestLogAdvisories_EmptyLogsNothing(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	logger.LogAdvisories(context.Background(), "linux-large", nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestLogLaunchSubmitted_SpotCarriesBid(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	logger.LogLaunchSubmitted(context.Background(), "linux-large", "ami-1", true, 0.40)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0]["bid_price"] != 0.40 {
		t.Errorf("bid_price = %v, want 0.40", entries[0]["bid_price"])
	}
}

func TestLogLaunchSubmitted_OnDemandOmitsBid(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	logger.LogLaunchSubmitted(context.Background(), "linux-large", "ami-1", false, 0)

	entries := decodeLines(t, &buf)
	if _, ok := entries[0]["bid_price"]; ok {
		t.Error("on-demand launch must not log a bid price")
	}
}

func TestLogSpotRejected(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	logger.LogSpotRejected(context.Background(), "linux-large", 2, 0.40, 0.42)

	entries := decodeLines(t, &buf)
	entry := entries[0]
	if entry["level"] != "warn" {
		t.Errorf("level = %v, want warn", entry["level"])
	}
	if entry["attempt"] != float64(2) {
		t.Errorf("attempt = %v, want 2", entry["attempt"])
	}
	if entry["next_bid_price"] != 0.42 {
		t.Errorf("next_bid_price = %v, want 0.42", entry["next_bid_price"])
	}
}
