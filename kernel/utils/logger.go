package utils

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

// LogLevel orders message severities; a logger drops everything below its
// configured level.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{"DEBUG", "INFO ", "WARN ", "ERROR"}

// Per-level line color; the whole line is tinted so interleaved output from
// several components stays readable.
var levelColors = [...]string{"\033[36m", "\033[32m", "\033[33m", "\033[31m"}

const colorReset = "\033[0m"

// Logger writes single-line entries of the form
//
//	15:04:05.000 LEVEL [component] message key=value ...
//
// Writes are serialised, so one logger may be shared across goroutines.
type Logger struct {
	mu        sync.Mutex
	level     LogLevel
	component string
	output    io.Writer
	colorize  bool
	buf       []byte
}

// LoggerConfig configures a logger. A nil Output means stdout.
type LoggerConfig struct {
	Level     LogLevel
	Component string
	Output    io.Writer
	Colorize  bool
}

// NewLogger builds a logger from the configuration.
func NewLogger(config LoggerConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	return &Logger{
		level:     config.Level,
		component: config.Component,
		output:    config.Output,
		colorize:  config.Colorize,
	}
}

// DefaultLogger logs INFO and above to stdout with color.
func DefaultLogger(component string) *Logger {
	return NewLogger(LoggerConfig{
		Level:     INFO,
		Component: component,
		Output:    os.Stdout,
		Colorize:  true,
	})
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(DEBUG, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(INFO, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(WARN, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(ERROR, msg, fields) }

func (l *Logger) log(level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.buf[:0]
	if l.colorize {
		b = append(b, levelColors[level]...)
	}
	b = time.Now().AppendFormat(b, "15:04:05.000")
	b = append(b, ' ')
	b = append(b, levelNames[level]...)
	if l.component != "" {
		b = append(b, " ["...)
		b = append(b, l.component...)
		b = append(b, ']')
	}
	b = append(b, ' ')
	b = append(b, msg...)

	for _, f := range fields {
		b = append(b, ' ')
		b = append(b, f.Key...)
		b = append(b, '=')
		b = f.appendValue(b)
	}

	if l.colorize {
		b = append(b, colorReset...)
	}
	b = append(b, '\n')

	l.buf = b
	l.output.Write(b)
}

// Field is one key=value pair on a log line.
type Field struct {
	Key string

	s   string
	n   int64
	u   uint64
	err error
	// which of the above carries the value
	kind fieldKind
}

type fieldKind int

const (
	fieldString fieldKind = iota
	fieldInt
	fieldUint
	fieldErr
)

func (f Field) appendValue(b []byte) []byte {
	switch f.kind {
	case fieldInt:
		return strconv.AppendInt(b, f.n, 10)
	case fieldUint:
		return strconv.AppendUint(b, f.u, 10)
	case fieldErr:
		if f.err == nil {
			return append(b, "<nil>"...)
		}
		return strconv.AppendQuote(b, f.err.Error())
	}
	return strconv.AppendQuote(b, f.s)
}

// String quotes a string value.
func String(key, value string) Field {
	return Field{Key: key, s: value, kind: fieldString}
}

// Int renders an integer value.
func Int(key string, value int) Field {
	return Field{Key: key, n: int64(value), kind: fieldInt}
}

// Uint64 renders counters and sizes.
func Uint64(key string, value uint64) Field {
	return Field{Key: key, u: value, kind: fieldUint}
}

// Err tags the error under the fixed "error" key.
func Err(err error) Field {
	return Field{Key: "error", err: err, kind: fieldErr}
}

// Stringer quotes any fmt.Stringer's rendering.
func Stringer(key string, value fmt.Stringer) Field {
	return Field{Key: key, s: value.String(), kind: fieldString}
}
