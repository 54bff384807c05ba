// Package logging is the leveled, component tagged logger of the host tools.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/lumberjack.v2"

	"github.com/itohio/goatu/pkg/config"
)

// Level is a logging level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name, defaulting to info.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Fields are extra key/value pairs attached to a message.
type Fields map[string]interface{}

// Logger writes leveled messages to a rotating file and/or the console.
type Logger struct {
	mu         sync.Mutex
	level      Level
	structured bool
	outputs    []*log.Logger
	rotating   *lumberjack.Logger
	now        func() time.Time
}

// NewLogger creates a logger from the logging section of cfg.
func NewLogger(cfg config.LoggingConfig) (*Logger, error) {
	l := &Logger{
		level:      ParseLevel(cfg.Level),
		structured: cfg.Structured,
		now:        time.Now,
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.rotating = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,    // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}
		l.outputs = append(l.outputs, log.New(l.rotating, "", 0))
	}

	if cfg.Console || l.rotating == nil {
		l.outputs = append(l.outputs, log.New(os.Stderr, "", 0))
	}
	return l, nil
}

// New creates a logger writing to w.
func New(w io.Writer, level Level, structured bool) *Logger {
	return &Logger{
		level:      level,
		structured: structured,
		outputs:    []*log.Logger{log.New(w, "", 0)},
		now:        time.Now,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{level: LevelError + 1, now: time.Now}
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.rotating != nil {
		return l.rotating.Close()
	}
	return nil
}

// SetLevel changes the minimum logged level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) format(level Level, component, message string, fields Fields) string {
	ts := l.now().Format("2006-01-02 15:04:05.000")

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if l.structured {
		var b strings.Builder
		fmt.Fprintf(&b, `{"time":%q,"level":%q,"component":%q,"message":%q`, ts, level, component, message)
		for _, k := range keys {
			fmt.Fprintf(&b, `,%q:%q`, k, fmt.Sprint(fields[k]))
		}
		b.WriteByte('}')
		return b.String()
	}

	s := fmt.Sprintf("%s [%s] %s: %s", ts, level, component, message)
	if len(keys) > 0 {
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, fields[k])
		}
		s += " [" + strings.Join(parts, " ") + "]"
	}
	return s
}

func (l *Logger) log(level Level, component, message string, fields Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level || len(l.outputs) == 0 {
		return
	}
	line := l.format(level, component, message, fields)
	for _, out := range l.outputs {
		out.Println(line)
	}
}

func first(fields []Fields) Fields {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a debug message.
func (l *Logger) Debug(component, message string, fields ...Fields) {
	l.log(LevelDebug, component, message, first(fields))
}

// Info logs an info message.
func (l *Logger) Info(component, message string, fields ...Fields) {
	l.log(LevelInfo, component, message, first(fields))
}

// Warn logs a warning.
func (l *Logger) Warn(component, message string, fields ...Fields) {
	l.log(LevelWarn, component, message, first(fields))
}

// Error logs an error.
func (l *Logger) Error(component, message string, fields ...Fields) {
	l.log(LevelError, component, message, first(fields))
}

func (l *Logger) Debugf(component, format string, args ...interface{}) {
	l.log(LevelDebug, component, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Infof(component, format string, args ...interface{}) {
	l.log(LevelInfo, component, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Warnf(component, format string, args ...interface{}) {
	l.log(LevelWarn, component, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Errorf(component, format string, args ...interface{}) {
	l.log(LevelError, component, fmt.Sprintf(format, args...), nil)
}
