package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"borescope/internal/config"
	"borescope/internal/logging"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestNewFromConfigWritesJSONFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Level = "warn"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept", logging.String(logging.FieldImagePath, "/x/a.jpg"))

	lines := strings.Split(strings.TrimSpace(readLog(t, filepath.Join(cfg.Paths.LogDir, "borescope.log"))), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", lines)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["msg"] != "kept" || entry["level"] != "warn" || entry["image_path"] != "/x/a.jpg" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
}

func TestConsoleLoggerOmitsSourceForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger = logging.NewComponentLogger(logger, "flusher")
	logger.Info("flush batch complete", logging.Int("flushed", 3))

	content := readLog(t, logPath)
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no source information in info logs, got %q", content)
	}
	if !strings.Contains(content, "INFO flusher: flush batch complete flushed=3") {
		t.Fatalf("unexpected console line %q", content)
	}
}

func TestConsoleLoggerIncludesSourceForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message with source")
	if content := readLog(t, logPath); !strings.Contains(content, "logger_test.go:") {
		t.Fatalf("expected source information in debug logs, got %q", content)
	}
}

func TestWarnWithContextFillsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "flush failed", "flush_failed",
		logging.String(logging.FieldImpact, "edit stays pending"),
	)

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, logPath))), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry[logging.FieldEventType] != "flush_failed" {
		t.Fatalf("missing event type: %v", entry)
	}
	if entry[logging.FieldImpact] != "edit stays pending" {
		t.Fatalf("impact overwritten: %v", entry)
	}
	if entry[logging.FieldErrorHint] == nil {
		t.Fatalf("missing default error hint: %v", entry)
	}
}

func TestErrorWithContextFillsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "error.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.ErrorWithContext(logger, "edits lost", "workspace_unsaved",
		logging.Any("counts", map[string]int{"pending": 2}),
	)

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, logPath))), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["level"] != "error" {
		t.Fatalf("expected error level: %v", entry)
	}
	if entry[logging.FieldEventType] != "workspace_unsaved" || entry[logging.FieldErrorHint] == nil {
		t.Fatalf("missing default fields: %v", entry)
	}
	counts, ok := entry["counts"].(map[string]any)
	if !ok || counts["pending"] != float64(2) {
		t.Fatalf("unexpected counts attr: %v", entry["counts"])
	}
}

func TestWithContextAddsSessionID(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "session.log")
	base, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := logging.WithSessionID(context.Background(), "sess-1")
	if id, ok := logging.SessionIDFromContext(ctx); !ok || id != "sess-1" {
		t.Fatalf("unexpected session id %q %v", id, ok)
	}
	logging.WithContext(ctx, base).Info("opened")

	if content := readLog(t, logPath); !strings.Contains(content, `"session_id":"sess-1"`) {
		t.Fatalf("expected session id in %q", content)
	}
	if _, ok := logging.SessionIDFromContext(context.Background()); ok {
		t.Fatal("expected no session id on a bare context")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 12) {
		t.Fatal("nop logger should not be enabled")
	}
	logging.WarnWithContext(nil, "ignored", "ignored")
}
