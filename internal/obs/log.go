package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *slog.Logger
	level      = new(slog.LevelVar)
)

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	loggerOnce.Do(func() {
		logger = NewLogger(os.Stdout)
		slog.SetDefault(logger)
	})
	return logger
}

// NewLogger builds a JSON logger writing to w at the shared level. The time
// key is renamed to "ts" to keep access log lines compact.
func NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			return a
		},
	}))
}

// SetLevel adjusts the shared level. Unknown names fall back to info.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}
