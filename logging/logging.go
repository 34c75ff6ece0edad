// Package logging contains the zap-backed loggers used by the photogrammetry tools.
package logging

import (
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface passed into every entry point that may warn.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	SetLevel(level Level)
	GetLevel() Level
	// Sublogger returns a logger named "<name>.<subname>" with its own level.
	Sublogger(subname string) Logger
	// With returns a logger that adds the given key/value pairs to every entry. It shares the
	// level of its parent.
	With(keysAndValues ...interface{}) Logger
	AddAppender(appender Appender)
	Sync() error
}

// NewBlankLogger returns a Debug+ logger in UTC without any appender.
func NewBlankLogger(name string) Logger {
	return &impl{name: name, level: NewAtomicLevelAt(DEBUG), inUTC: true, fields: []zapcore.Field{}}
}
