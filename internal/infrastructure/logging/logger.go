package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/nerrad567/garge-node/internal/infrastructure/config"
)

// logFileMode is the permission for a log file created by logging.output.
const logFileMode = 0o640

// redacted replaces the value of any secret attribute.
const redacted = "[redacted]"

// secretKeys are attribute keys whose values never reach the log.
var secretKeys = map[string]bool{
	"password":   true,
	"passphrase": true,
	"mqtt_pass":  true,
	"token":      true,
}

// Logger is the node's structured logger. Every entry carries the service
// name and build version.
//
// Thread Safety: safe for concurrent use.
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// New builds a Logger from the logging section: JSON by default, tinted
// text when format is "text". Output is "stdout", "stderr" or a file path
// appended to; a file that cannot be opened falls back to stderr.
func New(cfg config.LoggingConfig, version string) *Logger {
	w, closer, err := outputFor(cfg.Output)
	l := newWithWriter(cfg, version, w)
	l.closer = closer
	if err != nil {
		l.Warn("log file unavailable, logging to stderr", "path", cfg.Output, "error", err)
	}
	return l
}

func newWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = tint.NewHandler(w, &tint.Options{
			Level:       level,
			TimeFormat:  time.TimeOnly,
			NoColor:     !cfg.Color && !isTerminal(w),
			ReplaceAttr: redact,
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: redact,
		})
	}

	return &Logger{Logger: slog.New(handler.WithAttrs([]slog.Attr{
		slog.String("service", "garge-node"),
		slog.String("version", version),
	}))}
}

// redact masks secret attributes wherever they appear, including inside
// groups.
func redact(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// outputFor maps logging.output to a writer. The closer is non-nil only
// for a file the logger owns.
func outputFor(output string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFileMode) // #nosec G304 -- path comes from local config
	if err != nil {
		return os.Stderr, nil, err
	}
	return f, f, nil
}

// isTerminal reports whether w is a terminal, so colour is on by default
// for an interactive run.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// parseLevel maps logging.level to a slog level; unknown values are info.
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

// With returns a child Logger carrying args on every entry.
//
//	log.With("component", "wiz").Info("discovery pass")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Close releases a log file opened by New. Children made with With share
// the file and do not own it.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}

// Default is the logger used before the config file has been read: JSON
// on stdout at info.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
