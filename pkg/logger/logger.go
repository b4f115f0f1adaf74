package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Level represents log severity
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[Level]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

// Config holds logger configuration
type Config struct {
	Level  string
	Output io.Writer
}

// Logger is a small leveled logger with structured fields
type Logger struct {
	level  Level
	logger *log.Logger
}

// Field is a key/value pair attached to a log line
type Field struct {
	Key   string
	Value interface{}
}

// New creates a logger from config
func New(cfg Config) *Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	return &Logger{
		level:  ParseLevel(cfg.Level),
		logger: log.New(output, "", log.LstdFlags),
	}
}

// WithComponent returns a child logger whose lines carry a component prefix
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		level:  l.level,
		logger: log.New(l.logger.Writer(), fmt.Sprintf("[%s] ", component), log.LstdFlags),
	}
}

// Debug logs at debug level
func (l *Logger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields...) }

// Info logs at info level
func (l *Logger) Info(msg string, fields ...Field) { l.log(InfoLevel, msg, fields...) }

// Warn logs at warn level
func (l *Logger) Warn(msg string, fields ...Field) { l.log(WarnLevel, msg, fields...) }

// Error logs at error level
func (l *Logger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...Field) {
	if level < l.level {
		return
	}

	if len(fields) == 0 {
		l.logger.Printf("[%s] %s", levelNames[level], msg)
		return
	}

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}
	l.logger.Printf("[%s] %s %s", levelNames[level], msg, strings.Join(parts, " "))
}

// ParseLevel maps a level name to a Level, defaulting to info
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Field constructors

// String creates a string field
func String(key, val string) Field { return Field{Key: key, Value: val} }

// Int creates an int field
func Int(key string, val int) Field { return Field{Key: key, Value: val} }

// Uint32 creates a uint32 field
func Uint32(key string, val uint32) Field { return Field{Key: key, Value: val} }

// Uint64 creates a uint64 field
func Uint64(key string, val uint64) Field { return Field{Key: key, Value: val} }

// Uint8 creates a uint8 field
func Uint8(key string, val uint8) Field { return Field{Key: key, Value: val} }

// Bool creates a bool field
func Bool(key string, val bool) Field { return Field{Key: key, Value: val} }

// Duration creates a duration field
func Duration(key string, val time.Duration) Field { return Field{Key: key, Value: val} }

// Error creates an error field
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "nil"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Any creates a field with an arbitrary value
func Any(key string, val interface{}) Field { return Field{Key: key, Value: val} }
