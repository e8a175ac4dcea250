package internal

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLogLevel converts a log level name to a slog.Level. Recognized
// values, in any case: "debug", "info", "warning"/"warn", "error".
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warning", "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (use debug, info, warn or error)", level)
	}
}

// SetupLogger installs a text slog handler writing to w as the default
// logger. An unknown level falls back to info with a warning.
func SetupLogger(level string, w io.Writer) {
	lvl, err := ParseLogLevel(level)
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
	if err != nil {
		slog.Warn("defaulting to info", "error", err)
	}
}
