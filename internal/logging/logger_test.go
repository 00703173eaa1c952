package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("line is not valid JSON: %v: %s", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewLogger(t *testing.T) {
	t.Run("creates log file in directory", func(t *testing.T) {
		dir := t.TempDir()

		logger, err := NewLogger(dir, LevelDebug)
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer logger.Close()

		logPath := filepath.Join(dir, FileName)
		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			t.Errorf("log file was not created at %s", logPath)
		}
	})

	t.Run("writes to stderr when dir is empty", func(t *testing.T) {
		logger, err := NewLogger("", LevelInfo)
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer logger.Close()

		if logger.out != nil {
			t.Error("expected no file writer when dir is empty")
		}
	})

	t.Run("writes to supplied writer", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Options{Writer: &buf, Level: LevelInfo})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		logger.Info("hello")
		if !strings.Contains(buf.String(), `"msg":"hello"`) {
			t.Errorf("output = %q, want JSON with msg=hello", buf.String())
		}
	})

	t.Run("text handler", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Options{Writer: &buf, Text: true})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		logger.Info("plain output", "k", "v")
		if !strings.Contains(buf.String(), "msg=\"plain output\"") || !strings.Contains(buf.String(), "k=v") {
			t.Errorf("output = %q, want text handler format", buf.String())
		}
	})
}

func TestLogLevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelWarn)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")
	logger.Close()

	entries := readEntries(t, filepath.Join(dir, FileName))
	if len(entries) != 2 {
		t.Fatalf("expected 2 log lines (WARN and ERROR only), got %d", len(entries))
	}
	if entries[0]["level"] != "WARN" || entries[1]["level"] != "ERROR" {
		t.Errorf("levels = %v, %v", entries[0]["level"], entries[1]["level"])
	}
}

func TestContextPropagation(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	child := logger.WithComponent("orchestrator").WithResource("i-1").WithState("awaiting_ready")
	child.Info("cycle", "extra", "data")

	// Parent must not inherit child attributes.
	logger.Info("parent")
	logger.Close()

	entries := readEntries(t, filepath.Join(dir, FileName))
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	entry := entries[0]
	if entry["component"] != "orchestrator" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["resource_id"] != "i-1" {
		t.Errorf("resource_id = %v", entry["resource_id"])
	}
	if entry["state"] != "awaiting_ready" {
		t.Errorf("state = %v", entry["state"])
	}
	if entry["extra"] != "data" {
		t.Errorf("extra = %v", entry["extra"])
	}

	if _, ok := entries[1]["resource_id"]; ok {
		t.Error("parent logger picked up child attributes")
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Options{Writer: &buf})

	if logger.With() != logger {
		t.Error("With() without args should return the same logger")
	}

	logger.With("foo", "bar", "count", 42, 7, "ignored").Info("test message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry["foo"] != "bar" {
		t.Errorf("foo = %v", entry["foo"])
	}
	if entry["count"] != float64(42) {
		t.Errorf("count = %v", entry["count"])
	}
}

type secretish string

func (secretish) LogValue() slog.Value { return slog.StringValue(Redacted) }

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Options{Writer: &buf, Level: LevelDebug})

	logger.Info("create", "secret", "hunter22", "Password", "p4ssw0rd!", "credential", secretish("s3cr3t!!"))
	logger.With("credential_secret", "abcdefgh").Info("child")

	out := buf.String()
	for _, leaked := range []string{"hunter22", "p4ssw0rd!", "s3cr3t!!", "abcdefgh"} {
		if strings.Contains(out, leaked) {
			t.Errorf("log output leaked %q: %s", leaked, out)
		}
	}
	if strings.Count(out, Redacted) != 4 {
		t.Errorf("expected 4 redactions, got output %s", out)
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()

	logger.Debug("debug")
	logger.WithResource("i-1").Info("info")
	logger.Warn("warn")
	logger.Error("error")

	if err := logger.Close(); err != nil {
		t.Errorf("NopLogger.Close() returned error: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"DEBUG", LevelDebug},
		{"debug", LevelDebug},
		{" info ", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"ERROR", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidLevels(t *testing.T) {
	levels := ValidLevels()
	if len(levels) != 4 {
		t.Fatalf("expected 4 levels, got %d", len(levels))
	}
	for _, l := range levels {
		if ParseLevel(l) != l {
			t.Errorf("ParseLevel(%q) did not round-trip", l)
		}
	}
}

func TestClose(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	child := logger.WithResource("i-1")

	if err := logger.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	// Child shares the closed writer; logging must not panic.
	child.Info("after close")
}

func TestConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l := logger.With("worker", n)
			for j := 0; j < 20; j++ {
				l.Info("tick", "j", j)
			}
		}(i)
	}
	wg.Wait()
	logger.Close()

	entries := readEntries(t, filepath.Join(dir, FileName))
	if len(entries) != 200 {
		t.Errorf("expected 200 entries, got %d", len(entries))
	}
}
