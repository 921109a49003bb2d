package utils

import (
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ConfigureLogging sets the process-wide log level and output format.
// format is "json" or "text"; unknown levels fall back to info.
func ConfigureLogging(level, format string, out io.Writer) {
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if out != nil {
		log.SetOutput(out)
	}
}

// Logger is a component-scoped structured logger.
type Logger struct {
	entry *log.Entry
}

// NewLogger creates a logger that tags every line with component=name.
func NewLogger(component string) *Logger {
	return &Logger{entry: log.WithField("component", component)}
}

// NewLoggerFrom wraps an existing logrus logger, mainly for tests that
// capture output.
func NewLoggerFrom(base *log.Logger, component string) *Logger {
	return &Logger{entry: base.WithField("component", component)}
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.with(keyvals).Info(msg)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.with(keyvals).Error(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.with(keyvals).Warn(msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.with(keyvals).Debug(msg)
}

// with turns alternating key/value pairs into logrus fields. A trailing key
// without a value is kept under "!BADKEY".
func (l *Logger) with(keyvals []interface{}) *log.Entry {
	if len(keyvals) == 0 {
		return l.entry
	}
	fields := make(log.Fields, len(keyvals)/2+1)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 >= len(keyvals) {
			fields["!BADKEY"] = key
			break
		}
		val := keyvals[i+1]
		if err, ok := val.(error); ok && err != nil {
			val = err.Error()
		}
		fields[key] = val
	}
	return l.entry.WithFields(fields)
}
