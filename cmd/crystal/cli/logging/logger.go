// Package logging provides structured logging for the Crystal CLI using slog.
//
// Usage:
//
//	// Initialize logger for a session (typically at session start)
//	if err := logging.Init(sessionID); err != nil {
//	    // handle error
//	}
//	defer logging.Close()
//
//	// Add context values
//	ctx = logging.WithSession(ctx, sessionID)
//	ctx = logging.WithExecution(ctx, executionID)
//
//	// Log with context - session/execution IDs extracted automatically
//	logging.Info(ctx, "execution started",
//	    slog.String("worktree", worktreePath),
//	    slog.String("mode", mode),
//	)
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

	slogmulti "github.com/samber/slog-multi"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/paths"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/validation"
)

// LogLevelEnvVar is the environment variable that controls log level.
const LogLevelEnvVar = "CRYSTAL_LOG_LEVEL"

// MirrorStderrEnvVar, when set to a truthy value, mirrors JSON logs to stderr
// in addition to the session log file.
const MirrorStderrEnvVar = "CRYSTAL_LOG_STDERR"

// LogsDir is the directory where log files are stored (relative to repo root).
const LogsDir = ".crystal/logs"

var (
	// logger is the package-level logger instance
	logger *slog.Logger

	// logFile holds the current log file handle for cleanup
	logFile *os.File

	// logBufWriter wraps logFile with buffered I/O for performance
	logBufWriter *bufio.Writer

	// currentSessionID stores the session ID from Init() to include in all logs
	currentSessionID string

	// mu protects logger, logFile, logBufWriter, and currentSessionID
	mu sync.RWMutex

	// logLevelGetter is an optional callback to get log level from settings.
	// Set by SetLogLevelGetter before Init is called.
	logLevelGetter func() string
)

// SetLogLevelGetter sets a callback function to get the log level from settings.
// This allows the logging package to read settings without a circular dependency.
// The callback is only used if CRYSTAL_LOG_LEVEL env var is not set.
func SetLogLevelGetter(getter func() string) {
	mu.Lock()
	defer mu.Unlock()
	logLevelGetter = getter
}

// Init initializes the logger for a session, writing JSON logs to
// .crystal/logs/<session-id>.log.
//
// If CRYSTAL_LOG_STDERR is set, logs are fanned out to both the file and
// stderr. If the log file cannot be created, falls back to stderr only.
// Log level is controlled by the CRYSTAL_LOG_LEVEL environment variable.
func Init(sessionID string) error {
	// Validate session ID to prevent path traversal attacks
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return fmt.Errorf("invalid session ID for logging: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	// Close any existing log file (flush buffer first)
	if logBufWriter != nil {
		_ = logBufWriter.Flush()
		logBufWriter = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	// Get log level from environment first, then settings
	levelStr := os.Getenv(LogLevelEnvVar)
	if levelStr == "" && logLevelGetter != nil {
		levelStr = logLevelGetter()
	}
	level := parseLogLevel(levelStr)

	// Warn if invalid level was provided
	if levelStr != "" && !isValidLogLevel(levelStr) {
		fmt.Fprintf(os.Stderr, "[crystal] Warning: invalid log level %q, defaulting to INFO\n", levelStr)
	}

	// Determine log file path
	repoRoot, err := paths.RepoRoot()
	if err != nil {
		// Fall back to current directory
		repoRoot = "."
	}

	logsPath := filepath.Join(repoRoot, LogsDir)
	if err := os.MkdirAll(logsPath, 0o750); err != nil {
		// Fall back to stderr
		logger = createLogger(level, os.Stderr)
		return nil
	}

	logFilePath := filepath.Join(logsPath, sessionID+".log")
	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // sessionID validated above
	if err != nil {
		// Fall back to stderr
		logger = createLogger(level, os.Stderr)
		return nil
	}

	logFile = f
	logBufWriter = bufio.NewWriterSize(f, 8192) // 8KB buffer for batched writes
	if mirrorStderr() {
		logger = createLogger(level, logBufWriter, os.Stderr)
	} else {
		logger = createLogger(level, logBufWriter)
	}
	currentSessionID = sessionID

	return nil
}

// Close closes the log file if one is open.
// Flushes any buffered data before closing.
// Safe to call multiple times.
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

// resetLogger resets the logger to nil (for testing).
func resetLogger() {
	mu.Lock()
	defer mu.Unlock()
	logger = nil
	currentSessionID = ""
	if logBufWriter != nil {
		_ = logBufWriter.Flush()
		logBufWriter = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// getLogger returns the current logger, or a default stderr logger if not initialized.
func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	if logger == nil {
		// Return default stderr logger
		return slog.Default()
	}
	return logger
}

// getSessionID returns the current session ID (thread-safe).
func getSessionID() string {
	mu.RLock()
	defer mu.RUnlock()
	return currentSessionID
}

// createLogger creates a JSON logger fanning out to the given writers at the
// specified level.
func createLogger(level slog.Level, writers ...io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	handlers := make([]slog.Handler, 0, len(writers))
	for _, w := range writers {
		handlers = append(handlers, slog.NewJSONHandler(w, opts))
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0])
	}
	return slog.New(slogmulti.Fanout(handlers...))
}

func mirrorStderr() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(MirrorStderrEnvVar))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// parseLogLevel parses a log level string to slog.Level.
// Returns slog.LevelInfo for empty or invalid values.
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

// isValidLogLevel checks if the given string is a valid log level.
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

// LogDuration logs a message with duration_ms calculated from the start time.
// Designed for use with defer:
//
//	defer logging.LogDuration(ctx, slog.LevelInfo, "execution ended", time.Now())
func LogDuration(ctx context.Context, level slog.Level, msg string, start time.Time, attrs ...any) {
	durationMs := time.Since(start).Milliseconds()

	allAttrs := make([]any, 0, len(attrs)+1)
	allAttrs = append(allAttrs, slog.Int64("duration_ms", durationMs))
	allAttrs = append(allAttrs, attrs...)

	log(ctx, level, msg, allAttrs...)
}

// log is the internal logging function that extracts context values and logs.
func log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	l := getLogger()

	var allAttrs []any

	// Add session ID from Init() if set (always first for consistency)
	globalSessionID := getSessionID()
	if globalSessionID != "" {
		allAttrs = append(allAttrs, slog.String("session_id", globalSessionID))
	}

	// Extract context values, skipping session_id if already added from Init()
	contextAttrs := attrsFromContext(ctx, globalSessionID)
	for _, a := range contextAttrs {
		allAttrs = append(allAttrs, a)
	}

	allAttrs = append(allAttrs, attrs...)

	// Pass nil context to slog as we've already extracted context values as attributes.
	l.Log(nil, level, msg, allAttrs...) //nolint:staticcheck // nil context is intentional - we extract values as attributes
}

// attrsFromContext extracts logging attributes from a context.
// If globalSessionID is non-empty, skips adding session_id from context to avoid duplicates.
func attrsFromContext(ctx context.Context, globalSessionID string) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr

	if globalSessionID == "" {
		if v := ctx.Value(sessionIDKey); v != nil {
			if s, ok := v.(string); ok && s != "" {
				attrs = append(attrs, slog.String("session_id", s))
			}
		}
	}
	if v := ctx.Value(executionIDKey); v != nil {
		if s, ok := v.(string); ok && s != "" {
			attrs = append(attrs, slog.String("execution_id", s))
		}
	}
	if v := ctx.Value(worktreeKey); v != nil {
		if s, ok := v.(string); ok && s != "" {
			attrs = append(attrs, slog.String("worktree", s))
		}
	}
	if v := ctx.Value(componentKey); v != nil {
		if s, ok := v.(string); ok && s != "" {
			attrs = append(attrs, slog.String("component", s))
		}
	}

	return attrs
}
