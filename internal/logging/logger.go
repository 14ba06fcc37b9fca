package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LogFileName is the name of the log file created inside a log directory.
const LogFileName = "sightline.log"

// Context attribute keys. They are also the fields recognized by ReadEntries.
const (
	KeyRunID     = "run_id"
	KeyPhase     = "phase"
	KeyComponent = "component"
)

// Logger provides structured logging with run context propagation.
// It is safe for concurrent use; child loggers share the parent's sink.
type Logger struct {
	logger *slog.Logger
	sink   *sink
}

// sink owns the underlying writer so every child logger closes the same file.
type sink struct {
	mu     sync.Mutex
	closer io.Closer
	syncer interface{ Sync() error }
}

func (s *sink) close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closer == nil {
		return nil
	}
	if s.syncer != nil {
		if err := s.syncer.Sync(); err != nil {
			return fmt.Errorf("failed to sync log file: %w", err)
		}
	}
	if err := s.closer.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	s.closer = nil
	s.syncer = nil
	return nil
}

// NewLogger creates a Logger that writes JSON lines to {dir}/sightline.log.
//
// The level parameter controls which messages are logged:
//   - DEBUG: All messages, including ignored unknown event types
//   - INFO: Info, Warn, and Error messages
//   - WARN: Contract violations, synthesized tasks, and errors
//   - ERROR: Only Error messages
//
// If dir is empty, logs are written to stderr.
func NewLogger(dir string, level string) (*Logger, error) {
	if dir == "" {
		return NewWriterLogger(os.Stderr, level), nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(dir, LogFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return newLogger(file, level, &sink{closer: file, syncer: file}), nil
}

// NewLoggerWithRotation creates a Logger like NewLogger, but the log file is
// rotated according to config. An empty dir falls back to stderr.
func NewLoggerWithRotation(dir string, level string, config RotationConfig) (*Logger, error) {
	if dir == "" {
		return NewWriterLogger(os.Stderr, level), nil
	}

	rw, err := NewRotatingWriter(filepath.Join(dir, LogFileName), config)
	if err != nil {
		return nil, err
	}

	return newLogger(rw, level, &sink{closer: rw, syncer: rw}), nil
}

// NewWriterLogger creates a Logger that writes JSON lines to w. Close is a
// no-op for loggers created this way.
func NewWriterLogger(w io.Writer, level string) *Logger {
	return newLogger(w, level, nil)
}

func newLogger(w io.Writer, level string, s *sink) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Logger{logger: slog.New(handler), sink: s}
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch ParseLevel(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun returns a child Logger that tags every entry with the run id.
func (l *Logger) WithRun(runID string) *Logger {
	return l.With(KeyRunID, runID)
}

// WithPhase returns a child Logger that tags every entry with a run phase
// such as "planning", "execution", or "convergence".
func (l *Logger) WithPhase(phase string) *Logger {
	return l.With(KeyPhase, phase)
}

// WithComponent returns a child Logger that tags every entry with the name
// of the emitting component (reducer, client, stream, cache).
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(KeyComponent, name)
}

// With returns a child Logger with arbitrary key-value attributes.
// Keys and values are provided as alternating arguments; pairs whose key is
// not a string are skipped.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}

	attrs := make([]any, 0, len(args)/2)
	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}

	return &Logger{logger: l.logger.With(attrs...), sink: l.sink}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelError, msg, args...)
}

// Enabled reports whether messages at level would be emitted.
func (l *Logger) Enabled(level string) bool {
	return l.logger.Enabled(context.Background(), parseLevel(level))
}

// Close flushes and closes the log file shared by this logger and its
// children. Loggers writing to stderr or a caller-owned writer are unaffected.
func (l *Logger) Close() error {
	return l.sink.close()
}

// NopLogger returns a Logger that discards all log output.
func NopLogger() *Logger {
	return &Logger{logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

// ParseLevel converts a string level to the corresponding constant.
// Returns LevelInfo if the level string is not recognized.
func ParseLevel(level string) string {
	switch l := strings.ToUpper(strings.TrimSpace(level)); l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return l
	case "WARNING":
		return LevelWarn
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
