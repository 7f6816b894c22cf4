package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"donecast/internal/logging"
	"donecast/internal/services"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestJSONHandlerRenamesCoreFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("transcript ready",
		logging.String(logging.FieldAudioRef, "episode-12.wav"),
		logging.Int("attempt", 3))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log line: %v", err)
	}
	if entry["msg"] != "transcript ready" {
		t.Fatalf("expected msg key, got %v", entry)
	}
	if entry["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", entry["level"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatal("expected ts key")
	}
	if entry[logging.FieldAudioRef] != "episode-12.wav" {
		t.Fatalf("audio_ref attr missing: %v", entry)
	}
}

func TestConsoleHandlerIncludesComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	component := logging.NewComponentLogger(logger, "orchestrator")
	component.Info("assembly dispatched", logging.String(logging.FieldJobID, "job-1"))

	line := buf.String()
	if !strings.Contains(line, "orchestrator") {
		t.Fatalf("component name missing from console line: %q", line)
	}
	if !strings.Contains(line, "assembly dispatched") {
		t.Fatalf("message missing from console line: %q", line)
	}
	if !strings.Contains(line, "job_id=job-1") {
		t.Fatalf("attr missing from console line: %q", line)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("suppressed")
	logger.Warn("kept")

	lines := strings.TrimSpace(buf.String())
	if strings.Contains(lines, "suppressed") {
		t.Fatal("info line should be filtered at warn level")
	}
	if !strings.Contains(lines, "kept") {
		t.Fatal("warn line should pass the filter")
	}
}

func TestWithContextCarriesSessionFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := services.WithSessionID(context.Background(), "sess-1")
	ctx = services.WithStep(ctx, "audio_select")
	ctx = services.WithRequestID(ctx, "req-9")

	logging.WithContext(ctx, logger).Info("poll tick")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log line: %v", err)
	}
	if entry[logging.FieldSessionID] != "sess-1" {
		t.Fatalf("session id missing: %v", entry)
	}
	if entry[logging.FieldStep] != "audio_select" {
		t.Fatalf("step missing: %v", entry)
	}
	if entry[logging.FieldCorrelationID] != "req-9" {
		t.Fatalf("correlation id missing: %v", entry)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	logger.Error("goes nowhere", logging.Error(nil))
}
