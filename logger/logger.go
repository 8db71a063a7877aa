package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/olegkotsar/ncbi-sync/config"
)

// Logger defines the logging interface
type Logger interface {
	// Error logs an error message
	Error(msg string, args ...interface{})
	// Warn logs a warning message
	Warn(msg string, args ...interface{})
	// Info logs an informational message
	Info(msg string, args ...interface{})
	// Debug logs a debug message
	Debug(msg string, args ...interface{})
	// Verbose logs a per-file trace message
	Verbose(msg string, args ...interface{})

	// With returns a new logger with additional context fields
	With(key string, value interface{}) Logger
	// WithFields returns a new logger with multiple context fields
	WithFields(fields map[string]interface{}) Logger
}

var levelRank = map[config.LogLevel]int{
	config.LogLevelSilent:  0,
	config.LogLevelError:   1,
	config.LogLevelWarn:    2,
	config.LogLevelInfo:    3,
	config.LogLevelDebug:   4,
	config.LogLevelVerbose: 5,
}

var levelColor = map[config.LogLevel]*color.Color{
	config.LogLevelError:   color.New(color.FgRed, color.Bold),
	config.LogLevelWarn:    color.New(color.FgYellow),
	config.LogLevelInfo:    color.New(color.FgGreen),
	config.LogLevelDebug:   color.New(color.FgCyan),
	config.LogLevelVerbose: color.New(color.FgHiBlack),
}

// output is shared by a logger and everything derived from it with With,
// so concurrent workers never interleave partial lines.
type output struct {
	mu     sync.Mutex
	writer io.Writer
}

// DefaultLogger is the default logger implementation
type DefaultLogger struct {
	out        *output
	level      config.LogLevel
	fields     map[string]interface{}
	addSource  bool
	timeFormat string
	color      bool
}

// NewLogger creates a new logger writing to stderr
func NewLogger(cfg *config.LoggerConfig) Logger {
	return NewLoggerWithWriter(cfg, os.Stderr)
}

// NewLoggerWithWriter creates a logger with a custom writer (useful for testing)
func NewLoggerWithWriter(cfg *config.LoggerConfig, writer io.Writer) Logger {
	if cfg == nil {
		cfg = &config.LoggerConfig{}
	}
	cfg.ApplyDefaults()

	timeFormat := cfg.TimeFormat
	if timeFormat == config.NoTimestamp {
		timeFormat = ""
	}

	return &DefaultLogger{
		out:        &output{writer: writer},
		level:      cfg.Level,
		fields:     make(map[string]interface{}),
		addSource:  cfg.AddSource,
		timeFormat: timeFormat,
		color:      cfg.Color,
	}
}

func (l *DefaultLogger) shouldLog(level config.LogLevel) bool {
	if l.level == config.LogLevelSilent {
		return false
	}
	return levelRank[level] <= levelRank[l.level]
}

func (l *DefaultLogger) log(level config.LogLevel, msg string, args ...interface{}) {
	if !l.shouldLog(level) {
		return
	}

	var b strings.Builder

	if l.timeFormat != "" {
		b.WriteString(time.Now().Format(l.timeFormat))
		b.WriteByte(' ')
	}

	tag := fmt.Sprintf("[%s]", level)
	if c, ok := levelColor[level]; ok && l.color {
		tag = c.Sprint(tag)
	}
	b.WriteString(tag)
	b.WriteByte(' ')

	if l.addSource {
		if _, file, line, ok := runtime.Caller(2); ok {
			fmt.Fprintf(&b, "%s:%d ", file, line)
		}
	}

	// Fields are sorted so that identical events render identically
	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('[')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, l.fields[k])
		}
		b.WriteString("] ")
	}

	if len(args) > 0 {
		fmt.Fprintf(&b, msg, args...)
	} else {
		b.WriteString(msg)
	}
	b.WriteByte('\n')

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	io.WriteString(l.out.writer, b.String())
}

func (l *DefaultLogger) Error(msg string, args ...interface{}) {
	l.log(config.LogLevelError, msg, args...)
}

func (l *DefaultLogger) Warn(msg string, args ...interface{}) {
	l.log(config.LogLevelWarn, msg, args...)
}

func (l *DefaultLogger) Info(msg string, args ...interface{}) {
	l.log(config.LogLevelInfo, msg, args...)
}

func (l *DefaultLogger) Debug(msg string, args ...interface{}) {
	l.log(config.LogLevelDebug, msg, args...)
}

func (l *DefaultLogger) Verbose(msg string, args ...interface{}) {
	l.log(config.LogLevelVerbose, msg, args...)
}

// With returns a new logger with an additional context field
func (l *DefaultLogger) With(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a new logger with multiple context fields
func (l *DefaultLogger) WithFields(fields map[string]interface{}) Logger {
	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &DefaultLogger{
		out:        l.out,
		level:      l.level,
		fields:     newFields,
		addSource:  l.addSource,
		timeFormat: l.timeFormat,
		color:      l.color,
	}
}

// NoOpLogger is a logger that does nothing (useful for testing or when logging is disabled)
type NoOpLogger struct{}

// NewNoOpLogger creates a no-op logger
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) Error(msg string, args ...interface{})           {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})            {}
func (n *NoOpLogger) Info(msg string, args ...interface{})            {}
func (n *NoOpLogger) Debug(msg string, args ...interface{})           {}
func (n *NoOpLogger) Verbose(msg string, args ...interface{})         {}
func (n *NoOpLogger) With(key string, value interface{}) Logger       { return n }
func (n *NoOpLogger) WithFields(fields map[string]interface{}) Logger { return n }

// OrNoOp returns l, or a no-op logger when l is nil
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NewNoOpLogger()
	}
	return l
}
