package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// logOutput is the destination for the default handler. Tests swap it for a buffer.
var logOutput io.Writer = os.Stderr

// customHandler, when set via SetLogger, overrides the built-in text/JSON handlers.
// Configure and SetVerbose become no-ops once a custom handler is installed.
var customHandler slog.Handler

// ParseLevel converts a level name (trace|debug|info|warn|error, case-insensitive)
// to a slog.Level. trace maps to one step below slog.LevelDebug since slog has no
// trace level of its own. Unrecognized input returns slog.LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return slog.LevelDebug - 4
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetOutput redirects the built-in handlers' destination. Passing nil resets to
// os.Stderr. Has no effect once a custom handler has been installed via SetLogger.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	logOutput = w
	if customHandler == nil {
		SetLevel(slog.LevelInfo)
	}
}

// SetLogger installs a caller-provided handler as the default logger, bypassing
// the built-in text/JSON handlers. Subsequent calls to Configure or SetVerbose
// are ignored until SetLogger(nil) restores the built-in behavior.
func SetLogger(h slog.Handler) {
	customHandler = h
	if h == nil {
		SetLevel(slog.LevelInfo)
		return
	}
	DefaultLogger = slog.New(h)
}
