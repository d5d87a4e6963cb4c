package logger

import (
	"go.uber.org/zap"

	"zedstore"
)

// Zap wraps a zap.Logger to implement zedstore.Logger.
type Zap struct {
	sugar *zap.SugaredLogger
}

// NewZap creates a zedstore.Logger from a zap.Logger.
func NewZap(l *zap.Logger) zedstore.Logger {
	return &Zap{sugar: l.Sugar()}
}

// Error logs an error message with key-value pairs.
func (z *Zap) Error(msg string, args ...any) {
	z.sugar.Errorw(msg, args...)
}

// Warn logs a warning message with key-value pairs.
func (z *Zap) Warn(msg string, args ...any) {
	z.sugar.Warnw(msg, args...)
}

// Info logs an info message with key-value pairs.
func (z *Zap) Info(msg string, args ...any) {
	z.sugar.Infow(msg, args...)
}
