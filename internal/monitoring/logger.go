package monitoring

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"

	"github.com/banshee-data/oscstack/internal/config"
)

const (
	EnvLogLevel  = "OSCSTACK_LOG_LEVEL"
	EnvLogFormat = "OSCSTACK_LOG_FORMAT"
)

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(slog.Default())
}

// Logger returns the package-level diagnostic logger. It defaults to
// slog.Default but may be replaced by SetLogger.
func Logger() *slog.Logger {
	return logger.Load()
}

// SetLogger replaces the package logger. Passing nil installs a logger that
// discards everything, which tests use to mute output.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger.Store(l)
}

// NewLogger builds a logger from cfg writing to stderr. Text output goes
// through a charmbracelet/log handler; json output uses slog's JSON handler.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newWithWriter(cfg, os.Stderr)
}

func newWithWriter(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		format = strings.ToLower(v)
	}
	if format == "" {
		format = "text"
	}

	levelText := cfg.Level
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		levelText = v
	}
	level, err := ParseLevel(levelText)
	if err != nil {
		return nil, err
	}

	switch format {
	case "text":
		h := charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmLevel(level),
			ReportTimestamp: true,
			ReportCaller:    cfg.AddSource,
			Formatter:       charmlog.TextFormatter,
		})
		return slog.New(h), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     level,
			AddSource: cfg.AddSource,
		})), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", s)
	}
}

func charmLevel(level slog.Level) charmlog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmlog.DebugLevel
	case level <= slog.LevelInfo:
		return charmlog.InfoLevel
	case level <= slog.LevelWarn:
		return charmlog.WarnLevel
	default:
		return charmlog.ErrorLevel
	}
}
