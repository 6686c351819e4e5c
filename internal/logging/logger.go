// Package logging provides structured logging for pi-trace using slog.
//
// Usage:
//
//	if err := logging.Init(sessionID); err != nil {
//	    // handle error
//	}
//	defer logging.Close()
//
//	ctx = logging.WithSession(ctx, sessionID)
//	logging.Info(ctx, "trace appended", slog.String("trace_id", id))
package logging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nicobailon/pi-rewind-hook/internal/ownpaths"
	"github.com/nicobailon/pi-rewind-hook/internal/validation"
)

// LogLevelEnvVar is the environment variable that controls log level.
const LogLevelEnvVar = "PI_TRACE_LOG_LEVEL"

var (
	logger *slog.Logger

	logFile      *os.File
	logBufWriter *bufio.Writer

	currentSessionID string

	mu sync.RWMutex

	// logLevelGetter is an optional callback to get log level from settings,
	// used only if PI_TRACE_LOG_LEVEL is not set.
	logLevelGetter func() string
)

// SetLogLevelGetter sets a callback used to resolve the log level from
// settings when the environment variable is not set.
func SetLogLevelGetter(getter func() string) {
	mu.Lock()
	defer mu.Unlock()
	logLevelGetter = getter
}

// Init initializes the logger for a session, writing JSON logs to
// .pi-trace/logs/<session-id>.log. Falls back to stderr if the file
// cannot be created.
func Init(sessionID string) error {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return fmt.Errorf("invalid session ID for logging: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if logBufWriter != nil {
		_ = logBufWriter.Flush()
		logBufWriter = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	levelStr := os.Getenv(LogLevelEnvVar)
	if levelStr == "" && logLevelGetter != nil {
		levelStr = logLevelGetter()
	}
	level := parseLogLevel(levelStr)

	if levelStr != "" && !isValidLogLevel(levelStr) {
		fmt.Fprintf(os.Stderr, "[pi-trace] warning: invalid log level %q, defaulting to INFO\n", levelStr)
	}

	logsPath, err := ownpaths.LogsDirPath()
	if err != nil {
		logger = createLogger(os.Stderr, level)
		return nil //nolint:nilerr // degrade to stderr per environment-error policy
	}

	if err := os.MkdirAll(logsPath, 0o750); err != nil {
		logger = createLogger(os.Stderr, level)
		return nil //nolint:nilerr
	}

	logFilePath := filepath.Join(logsPath, sessionID+".log")
	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // sessionID validated above
	if err != nil {
		logger = createLogger(os.Stderr, level)
		return nil //nolint:nilerr
	}

	logFile = f
	logBufWriter = bufio.NewWriterSize(f, 8192)
	logger = createLogger(logBufWriter, level)
	currentSessionID = sessionID

	return nil
}

// Close flushes and closes the log file if one is open. Safe to call multiple times.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logBufWriter != nil {
		_ = logBufWriter.Flush()
		logBufWriter = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	currentSessionID = ""
}

func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func getSessionID() string {
	mu.RLock()
	defer mu.RUnlock()
	return currentSessionID
}

func createLogger(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isValidLogLevel(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "":
		return true
	default:
		return false
	}
}

// Debug logs at DEBUG level with context values automatically extracted.
func Debug(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs at INFO level with context values automatically extracted.
func Info(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs at WARN level with context values automatically extracted.
func Warn(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs at ERROR level with context values automatically extracted.
func Error(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelError, msg, attrs...)
}

// LogDuration logs a message with duration_ms computed from start.
func LogDuration(ctx context.Context, level slog.Level, msg string, start time.Time, attrs ...any) {
	durationMs := time.Since(start).Milliseconds()
	allAttrs := make([]any, 0, len(attrs)+1)
	allAttrs = append(allAttrs, slog.Int64("duration_ms", durationMs))
	allAttrs = append(allAttrs, attrs...)
	log(ctx, level, msg, allAttrs...)
}

func log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	l := getLogger()

	var allAttrs []any

	globalSessionID := getSessionID()
	if globalSessionID != "" {
		allAttrs = append(allAttrs, slog.String("session_id", globalSessionID))
	}

	for _, a := range attrsFromContext(ctx, globalSessionID) {
		allAttrs = append(allAttrs, a)
	}

	allAttrs = append(allAttrs, attrs...)

	l.Log(context.Background(), level, msg, allAttrs...)
}

func attrsFromContext(ctx context.Context, globalSessionID string) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr

	if globalSessionID == "" {
		if s := SessionIDFromContext(ctx); s != "" {
			attrs = append(attrs, slog.String("session_id", s))
		}
	}
	if s := ToolCallIDFromContext(ctx); s != "" {
		attrs = append(attrs, slog.String("tool_call_id", s))
	}
	if s := ComponentFromContext(ctx); s != "" {
		attrs = append(attrs, slog.String("component", s))
	}
	if s := AgentFromContext(ctx); s != "" {
		attrs = append(attrs, slog.String("agent", s))
	}

	return attrs
}
