// Package logger builds the process slog.Logger on top of charmbracelet/log.
//
// Text output is the default. JSON output carries the same keys as text
// plus RFC 3339 timestamps. With redaction on, phone numbers in messages and
// string attributes are masked down to their last four digits.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"

	"signalclaw/pkg/config"
)

const (
	formatText = "text"
	formatJSON = "json"

	envFormat    = "SIGNALCLAW_LOG_FORMAT"
	envLevel     = "SIGNALCLAW_LOG_LEVEL"
	envAddSource = "SIGNALCLAW_LOG_ADD_SOURCE"
	envRedact    = "SIGNALCLAW_LOG_REDACT"
)

// phoneNumber matches E.164 numbers as Signal reports them.
var phoneNumber = regexp.MustCompile(`\+\d{7,15}`)

// settings is LoggingConfig after environment overrides.
type settings struct {
	formatter charmLog.Formatter
	level     charmLog.Level
	addSource bool
	redact    bool
}

// New builds the process logger from logging config and SIGNALCLAW_LOG_* overrides.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newWithWriter(cfg, os.Stderr)
}

// Component scopes a logger to one component, falling back to slog.Default.
func Component(log *slog.Logger, name string) *slog.Logger {
	if log == nil {
		log = slog.Default()
	}

	return log.With("component", name)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	s, err := resolveSettings(cfg)
	if err != nil {
		return nil, err
	}

	opts := charmLog.Options{
		Level:           s.level,
		ReportTimestamp: true,
		ReportCaller:    s.addSource,
		Formatter:       s.formatter,
		TimeFunction:    charmLog.NowUTC,
	}
	if s.formatter == charmLog.JSONFormatter {
		opts.TimeFormat = time.RFC3339Nano
	}

	var handler slog.Handler = charmLog.NewWithOptions(writer, opts)
	if s.redact {
		handler = &redactHandler{next: handler}
	}

	return slog.New(handler), nil
}

func resolveSettings(cfg config.LoggingConfig) (settings, error) {
	format := envOr(envFormat, cfg.Format)
	levelText := envOr(envLevel, cfg.Level)

	s := settings{
		addSource: cfg.AddSource,
		redact:    cfg.RedactNumbers,
	}
	if value := strings.TrimSpace(os.Getenv(envAddSource)); value != "" {
		s.addSource = parseBool(value)
	}
	if value := strings.TrimSpace(os.Getenv(envRedact)); value != "" {
		s.redact = parseBool(value)
	}

	switch format {
	case "", formatText:
		s.formatter = charmLog.TextFormatter
	case formatJSON:
		s.formatter = charmLog.JSONFormatter
	default:
		return settings{}, fmt.Errorf("unsupported log format %q", format)
	}

	switch levelText {
	case "":
		s.level = charmLog.InfoLevel
	case "warning":
		s.level = charmLog.WarnLevel
	default:
		level, err := charmLog.ParseLevel(levelText)
		if err != nil || level == charmLog.FatalLevel {
			return settings{}, fmt.Errorf("unsupported log level %q", levelText)
		}
		s.level = level
	}

	return s, nil
}

// envOr returns the named variable when set, else fallback, lowercased.
func envOr(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return strings.ToLower(value)
	}

	return strings.ToLower(strings.TrimSpace(fallback))
}

func parseBool(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// maskPhoneNumbers replaces every phone number in s with a form that keeps
// only the last four digits.
func maskPhoneNumbers(s string) string {
	return phoneNumber.ReplaceAllStringFunc(s, func(number string) string {
		digits := number[1:]
		return "+" + strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
	})
}

// redactHandler masks phone numbers before records reach the wrapped handler.
type redactHandler struct {
	next slog.Handler
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, record slog.Record) error {
	masked := slog.NewRecord(record.Time, record.Level, maskPhoneNumbers(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		masked.AddAttrs(redactAttr(attr))
		return true
	})

	return h.next.Handle(ctx, masked)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		masked = append(masked, redactAttr(attr))
	}

	return &redactHandler{next: h.next.WithAttrs(masked)}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{next: h.next.WithGroup(name)}
}

func redactAttr(attr slog.Attr) slog.Attr {
	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, maskPhoneNumbers(value.String()))
	case slog.KindGroup:
		group := value.Group()
		masked := make([]any, 0, len(group))
		for _, item := range group {
			masked = append(masked, redactAttr(item))
		}
		return slog.Group(attr.Key, masked...)
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			return slog.String(attr.Key, maskPhoneNumbers(err.Error()))
		}
	}

	return slog.Attr{Key: attr.Key, Value: value}
}
