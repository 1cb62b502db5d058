package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/mqttprobe/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "mqttprobe"

// redacted replaces the value of any attribute whose key looks secret.
const redacted = "[REDACTED]"

// secretKeys are attribute keys whose values are never written.
var secretKeys = map[string]bool{
	"password": true,
	"token":    true,
	"secret":   true,
	"key_pem":  true,
}

// Logger is a slog.Logger carrying the service and version fields.
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates a Logger from cfg, writing to stdout or stderr per cfg.Output.
//
// Parameters:
//   - cfg: Logging configuration
//   - version: Application version attached to every entry
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	output := io.Writer(os.Stderr)
	if strings.EqualFold(cfg.Output, "stdout") {
		output = os.Stdout
	}
	return NewWithWriter(cfg, version, output)
}

// NewWithWriter is New with an explicit destination; cfg.Output is ignored.
func NewWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactSecrets,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{
		Logger: slog.New(handler).With(
			slog.String("service", serviceName),
			slog.String("version", version),
		),
	}
}

// redactSecrets masks credential-like attributes wherever they appear.
func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// parseLevel converts a configured level name to slog.Level.
// Unknown names fall back to info.
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

// With returns a Logger with additional default attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a Logger tagging every entry with component=name.
//
//	journalLog := logger.Component("journal")
//	journalLog.Warn("journal write failed") // component=journal
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}
