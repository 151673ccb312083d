package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/relaybox/internal/infrastructure/config"
)

const (
	serviceName = "relaybox"

	// redacted replaces the value of any sensitive attribute.
	redacted = "[REDACTED]"
)

// sensitiveKeys are attribute keys whose values never reach the output.
// Matching is case-insensitive.
var sensitiveKeys = map[string]struct{}{
	"secret":        {},
	"admin_secret":  {},
	"token":         {},
	"access_token":  {},
	"authorization": {},
	"password":      {},
	"message":       {}, // SMS bodies
	"number":        {}, // phone numbers
}

// Logger is a slog.Logger carrying the service and version on every entry.
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from cfg, writing to stdout unless cfg.Output is "stderr".
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(cfg, version, out)
}

// NewWithWriter is like New but writes to out, ignoring cfg.Output.
func NewWithWriter(cfg config.LoggingConfig, version string, out io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	}

	return &Logger{Logger: slog.New(h).With(
		slog.String("service", serviceName),
		slog.String("version", version),
	)}
}

// redact blanks sensitive attributes. Group members are checked too.
func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}
	return a
}

// parseLevel maps debug, info, warn(ing) and error; anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child logger with extra attributes, e.g.
//
//	log.With("component", "poll").Info("commands delivered")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the logger used before configuration is loaded: JSON, info, stdout.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}

// Discard returns a logger that drops everything. Intended for tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}
