package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var Log *slog.Logger

// Init initializes the global slog logger with a text handler. Level and
// sink can be overridden via PARLEY_LOG_LEVEL and PARLEY_LOG_SINK
// (e.g. "file:/path/to/log").
func Init() {
	InitWithLevel("", "")
}

// InitWithLevel initializes the global logger honoring the provided level
// string ("debug", "info", "warn", "error") and sink ("stderr", "stdout"
// or "file:/path"). Empty values fall back to the PARLEY_LOG_LEVEL and
// PARLEY_LOG_SINK environment variables, then to info on stdout.
func InitWithLevel(level, sink string) {
	if sink == "" {
		sink = os.Getenv("PARLEY_LOG_SINK")
	}
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		lvl = strings.ToLower(strings.TrimSpace(os.Getenv("PARLEY_LOG_LEVEL")))
	}
	var lv slog.Level
	switch lvl {
	case "debug":
		lv = slog.LevelDebug
	case "warn", "warning":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}

	if strings.HasPrefix(sink, "file:") {
		path := strings.TrimPrefix(sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err == nil {
			Log = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: lv}))
			return
		}
		fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
	}
	out := os.Stdout
	if sink == "stderr" {
		out = os.Stderr
	}
	Log = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lv}))
}

// With returns a child logger carrying the given attributes. When Init has
// not run it returns a discard logger so library code and tests stay quiet.
func With(args ...any) *slog.Logger {
	if Log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return Log.With(args...)
}

// Debug logs with slog-style key/value pairs.
func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Debug(msg, args...)
}

// Info logs with slog-style key/value pairs.
func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Info(msg, args...)
}

// Warn logs with slog-style key/value pairs.
func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Warn(msg, args...)
}

// Error logs with slog-style key/value pairs.
func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Error(msg, args...)
}
