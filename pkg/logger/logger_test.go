package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"signalclaw/pkg/config"
)

func decodeLine(t *testing.T, out *bytes.Buffer) map[string]any {
	t.Helper()

	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("unmarshal log entry %q: %v", line, err)
	}
	return entry
}

func TestLoggerJSONEntryShape(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.With("component", "channel.signal").Info("Received Signal message", "chat_jid", "+1", "ok", true)

	entry := decodeLine(t, &out)
	if entry["level"] != "info" {
		t.Fatalf("level = %v, want %q", entry["level"], "info")
	}
	if entry["msg"] != "Received Signal message" {
		t.Fatalf("msg = %v, want %q", entry["msg"], "Received Signal message")
	}
	if entry["component"] != "channel.signal" {
		t.Fatalf("component = %v, want %q", entry["component"], "channel.signal")
	}
	if entry["chat_jid"] != "+1" {
		t.Fatalf("chat_jid = %v, want %q", entry["chat_jid"], "+1")
	}
	if entry["ok"] != true {
		t.Fatalf("ok = %v, want true", entry["ok"])
	}
	if _, ok := entry["time"].(string); !ok {
		t.Fatalf("expected time string, got %v", entry["time"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Ignored")
	if got := strings.TrimSpace(out.String()); got != "" {
		t.Fatalf("expected no output for info, got %q", got)
	}

	log.Error("Kept")
	if got := strings.TrimSpace(out.String()); got == "" {
		t.Fatal("expected output for error")
	}
}

func TestLoggerEnvironmentOverrides(t *testing.T) {
	unsetLoggingEnv(t)
	t.Setenv(envLevel, "debug")
	t.Setenv(envFormat, "text")

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Debug("Debug enabled", "component", "test")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected debug output with env override")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format override, got %q", line)
	}
}

func TestLoggerDefaultsToTextFormat(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Default format")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format by default, got %q", line)
	}
}

func TestLoggerRejectsUnknownSettings(t *testing.T) {
	unsetLoggingEnv(t)

	if _, err := newWithWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := newWithWriter(config.LoggingConfig{Level: "fatal"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for fatal level")
	}
	if _, err := newWithWriter(config.LoggingConfig{Level: "Warning"}, &bytes.Buffer{}); err != nil {
		t.Fatalf("warning alias: %v", err)
	}
}

func TestLoggerRedactsPhoneNumbers(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", RedactNumbers: true}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.With("source", "+14155551111").Info("Reply to +14155552222 failed",
		"chat_jid", "signal-group:dGVzdA==",
		"error", errors.New("Signal API timeout sending to +14155553333"),
		slog.Group("sender", "number", "+14155554444"),
	)

	entry := decodeLine(t, &out)
	if entry["source"] != "+*******1111" {
		t.Fatalf("source = %v, want masked", entry["source"])
	}
	if entry["msg"] != "Reply to +*******2222 failed" {
		t.Fatalf("msg = %v, want masked", entry["msg"])
	}
	if entry["chat_jid"] != "signal-group:dGVzdA==" {
		t.Fatalf("chat_jid = %v, want unchanged", entry["chat_jid"])
	}
	if entry["error"] != "Signal API timeout sending to +*******3333" {
		t.Fatalf("error = %v, want masked", entry["error"])
	}
	if strings.Contains(out.String(), "4155554444") {
		t.Fatalf("grouped number leaked: %s", out.String())
	}
}

func TestLoggerRedactionFromEnvironment(t *testing.T) {
	unsetLoggingEnv(t)
	t.Setenv(envRedact, "true")

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Received Signal message", "source", "+14155551111")
	if strings.Contains(out.String(), "+14155551111") {
		t.Fatalf("expected number masked, got %s", out.String())
	}
}

func TestMaskPhoneNumbers(t *testing.T) {
	tests := map[string]string{
		"+14155551111":          "+*******1111",
		"from +447700900123 ok": "from +********0123 ok",
		"+123":                  "+123",
		"no numbers":            "no numbers",
		"1700000000000:+1":      "1700000000000:+1",
	}
	for input, want := range tests {
		if got := maskPhoneNumbers(input); got != want {
			t.Fatalf("maskPhoneNumbers(%q) = %q, want %q", input, got, want)
		}
	}
}

func unsetLoggingEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{envLevel, envFormat, envAddSource, envRedact} {
		t.Setenv(name, "")
		_ = os.Unsetenv(name)
	}
}

func TestComponentFallsBackToDefault(t *testing.T) {
	log := Component(nil, "channel.signal")
	if log == nil {
		t.Fatal("expected logger")
	}
}

func TestDiscardDropsRecords(t *testing.T) {
	log := Discard()
	if log.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("expected discard logger to drop error records")
	}
}
