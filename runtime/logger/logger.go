// Package logger provides structured logging built on log/slog, with
// per-module level overrides, context-carried fields, and redaction of
// sensitive values (bearer tokens, authorization headers) before they
// reach a log sink.
//
// All exported functions use the global DefaultLogger, which is safe for
// concurrent use and configurable via SetLevel, SetVerbose, or Configure.
package logger

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// DefaultLogger is the global structured logger instance.
var DefaultLogger *slog.Logger

func init() {
	level := ParseLevel(os.Getenv("RAFFEL_LOG_LEVEL"))
	handler := NewContextHandler(slog.NewTextHandler(logOutput, &slog.HandlerOptions{Level: level}))
	DefaultLogger = slog.New(handler)
}

// SetLevel changes the logging level for all subsequent log operations.
func SetLevel(level slog.Level) {
	if customHandler != nil {
		return
	}
	handler := NewContextHandler(slog.NewTextHandler(logOutput, &slog.HandlerOptions{Level: level}))
	DefaultLogger = slog.New(handler)
}

// SetVerbose enables debug-level logging when verbose is true, otherwise info-level.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

func Info(msg string, args ...any)  { DefaultLogger.Info(msg, args...) }
func Debug(msg string, args ...any) { DefaultLogger.Debug(msg, args...) }
func Warn(msg string, args ...any)  { DefaultLogger.Warn(msg, args...) }
func Error(msg string, args ...any) { DefaultLogger.Error(msg, args...) }

func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// sensitivePatterns match values that must never reach a log line verbatim:
// bearer tokens and the handful of API-key shapes seen in envelope metadata
// and adapter headers.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`[Bb]earer\s+[a-zA-Z0-9._-]+`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
}

// RedactSensitiveData replaces recognized sensitive substrings (bearer tokens,
// API-key-shaped strings) with a redacted form that keeps a short prefix for
// debugging context. Used before logging envelope metadata or adapter headers.
func RedactSensitiveData(input string) string {
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if strings.HasPrefix(strings.ToLower(match), "bearer ") {
				return "Bearer [REDACTED]"
			}
			if len(match) > 8 {
				return match[:4] + "...[REDACTED]"
			}
			return "[REDACTED]"
		})
	}
	return result
}

// RedactHeaders returns a copy of headers with values passed through RedactSensitiveData.
func RedactHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return headers
	}
	redacted := make(map[string]string, len(headers))
	for k, v := range headers {
		redacted[k] = RedactSensitiveData(v)
	}
	return redacted
}
