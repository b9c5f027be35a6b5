package internal

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// InitLogging installs a text slog handler on stdout at the given level and routes
// the standard log package through it. It returns the logger for injection.
func InitLogging(level string) *slog.Logger {
	return initLogging(os.Stdout, level)
}

func initLogging(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: strings.EqualFold(level, "debug"),
	}
	logger := slog.New(slog.NewTextHandler(w, opts))
	slog.SetDefault(logger)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return logger
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else is info.
func ParseLevel(level string) slog.Level {
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
