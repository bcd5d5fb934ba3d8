package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(&buf, false, "warn")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Info().Msg("hidden")
	log.Warn().Str("key", "array_data/a.jsonl").Msg("artifact cleanup failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var event map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if event["level"] != "warn" || event["key"] != "array_data/a.jsonl" || event["time"] == nil {
		t.Fatalf("unexpected event %v", event)
	}
}

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(&buf, true, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Info().Msg("views updated")
	if !strings.Contains(buf.String(), "views updated") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("unexpected console output %q", buf.String())
	}
}

func TestInvalidLevel(t *testing.T) {
	if _, err := NewWriter(&bytes.Buffer{}, false, "chatty"); err == nil {
		t.Fatalf("expected error")
	}
}
