// Package logger owns the process-wide structured logger.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Log is initialized to a sane default so packages can log before Init runs
// (tests in particular never call Init).
var Log = slog.New(slog.NewTextHandler(os.Stdout, nil))

// Init replaces the default logger honoring the given level string
// ("debug", "info", "warn", "error"); empty or unknown means info.
func Init(level string) {
	var lv slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lv = slog.LevelDebug
	case "warn", "warning":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}
