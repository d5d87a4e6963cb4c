package logger

import (
	"github.com/sirupsen/logrus"

	"zedstore"
)

// Logrus wraps a logrus.Logger to implement zedstore.Logger.
type Logrus struct {
	logger *logrus.Logger
}

// NewLogrus creates a zedstore.Logger from a logrus.Logger.
func NewLogrus(l *logrus.Logger) zedstore.Logger {
	return &Logrus{logger: l}
}

// Error logs an error message with key-value pairs.
func (l *Logrus) Error(msg string, args ...any) {
	l.logger.WithFields(argsToFields(args)).Error(msg)
}

// Warn logs a warning message with key-value pairs.
func (l *Logrus) Warn(msg string, args ...any) {
	l.logger.WithFields(argsToFields(args)).Warn(msg)
}

// Info logs an info message with key-value pairs.
func (l *Logrus) Info(msg string, args ...any) {
	l.logger.WithFields(argsToFields(args)).Info(msg)
}

func argsToFields(args []any) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			fields[key] = args[i+1]
		}
	}
	return fields
}
