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

// FileName is the log file created inside the configured log directory.
const FileName = "flashdesk.log"

// Redacted replaces the value of any attribute whose key names secret material.
const Redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach the log output,
// whatever type the caller passed.
var sensitiveKeys = map[string]struct{}{
	"secret":            {},
	"password":          {},
	"credential_secret": {},
	"credentialsecret":  {},
}

// Options controls where and how a Logger writes.
type Options struct {
	// Dir is the directory holding FileName. Empty means write to Writer.
	Dir string
	// Level is one of the Level* constants; unknown values mean INFO.
	Level string
	// Rotation applies when Dir is set.
	Rotation RotationConfig
	// Writer receives output when Dir is empty. Defaults to os.Stderr.
	Writer io.Writer
	// Text selects slog's text handler instead of JSON.
	Text bool
}

// Logger provides structured logging with context propagation.
// It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	out    *RotatingWriter
	mu     *sync.Mutex
	attrs  []slog.Attr // Persistent attributes (resource, state, component)
}

// NewLogger creates a Logger writing to {dir}/flashdesk.log with size-based
// rotation, or to stderr when dir is empty.
func NewLogger(dir string, level string) (*Logger, error) {
	return New(Options{Dir: dir, Level: level, Rotation: DefaultRotationConfig()})
}

// New creates a Logger from opts.
func New(opts Options) (*Logger, error) {
	var writer io.Writer
	var out *RotatingWriter

	if opts.Dir != "" {
		rw, err := NewRotatingWriter(filepath.Join(opts.Dir, FileName), opts.Rotation)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = rw
		writer = rw
	} else if opts.Writer != nil {
		writer = opts.Writer
	} else {
		writer = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       parseLevel(opts.Level),
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	if opts.Text {
		handler = slog.NewTextHandler(writer, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	}

	return &Logger{
		logger: slog.New(handler),
		out:    out,
		mu:     &sync.Mutex{},
		attrs:  make([]slog.Attr, 0),
	}, nil
}

// redactAttr blanks attributes whose key names secret material.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, Redacted)
	}
	return a
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

// WithResource returns a child Logger tagging every entry with the resource ID.
func (l *Logger) WithResource(resourceID string) *Logger {
	return l.withAttr(slog.String("resource_id", resourceID))
}

// WithState returns a child Logger tagging every entry with the session state.
func (l *Logger) WithState(state string) *Logger {
	return l.withAttr(slog.String("state", state))
}

// WithComponent returns a child Logger tagging every entry with a component name
// such as "orchestrator", "readiness" or "gateway".
func (l *Logger) WithComponent(component string) *Logger {
	return l.withAttr(slog.String("component", component))
}

// With returns a new Logger with arbitrary key-value attributes.
// Keys and values are provided as alternating arguments.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}

	newAttrs := make([]slog.Attr, 0, len(l.attrs)+len(args)/2)
	newAttrs = append(newAttrs, l.attrs...)

	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		newAttrs = append(newAttrs, slog.Any(key, args[i+1]))
	}

	return l.derive(newAttrs)
}

func (l *Logger) withAttr(attr slog.Attr) *Logger {
	newAttrs := make([]slog.Attr, len(l.attrs)+1)
	copy(newAttrs, l.attrs)
	newAttrs[len(l.attrs)] = attr
	return l.derive(newAttrs)
}

func (l *Logger) derive(attrs []slog.Attr) *Logger {
	return &Logger{
		logger: l.logger,
		out:    l.out,
		mu:     l.mu,
		attrs:  attrs,
	}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	allArgs := make([]any, 0, len(l.attrs)+len(args))
	for _, attr := range l.attrs {
		allArgs = append(allArgs, attr)
	}
	allArgs = append(allArgs, args...)

	l.logger.Log(context.Background(), level, msg, allArgs...)
}

// Close flushes and closes the log file.
// If the logger writes to stderr or a caller-supplied writer, Close is a no-op.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out != nil {
		if err := l.out.Close(); err != nil {
			return err
		}
		l.out = nil
	}
	return nil
}

// NopLogger returns a Logger that discards all log output.
// Useful for testing or when logging is disabled.
func NopLogger() *Logger {
	return &Logger{
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		mu:     &sync.Mutex{},
		attrs:  make([]slog.Attr, 0),
	}
}

// ParseLevel converts a string level to the corresponding constant.
// Returns LevelInfo if the level string is not recognized.
func ParseLevel(level string) string {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
