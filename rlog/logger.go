// Package rlog defines the logging contract used throughout the raft core
// and a zap-backed default implementation.
package rlog

import (
	"go.uber.org/zap"
)

// Logger supports logging messages at the debug, info, warn, error, and
// fatal level. Fatal terminates the process; it is reserved for Internal
// and IO errors that leave the node in an unrecoverable state.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	// With returns a Logger that annotates every message with the given
	// key/value pairs.
	With(args ...interface{}) Logger
}

// zapLogger adapts a *zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger builds a Logger backed by a production zap configuration
// (JSON, leveled, timestamped).
func NewZapLogger() (Logger, error) {
	cfg := zap.NewProductionConfig()
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: logger.Sugar()}, nil
}

// NewDevelopmentLogger builds a Logger with human-readable console output,
// intended for tests and local runs.
func NewDevelopmentLogger() (Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: logger.Sugar()}, nil
}

// NewNopLogger returns a Logger that discards everything, for use in tests
// that don't care about log output.
func NewNopLogger() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debug(args ...interface{})                 { l.s.Debug(args...) }
func (l *zapLogger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *zapLogger) Info(args ...interface{})                  { l.s.Info(args...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *zapLogger) Warn(args ...interface{})                  { l.s.Warn(args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *zapLogger) Error(args ...interface{})                 { l.s.Error(args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }
func (l *zapLogger) Fatal(args ...interface{})                 { l.s.Fatal(args...) }
func (l *zapLogger) Fatalf(format string, args ...interface{}) { l.s.Fatalf(format, args...) }

func (l *zapLogger) With(args ...interface{}) Logger {
	return &zapLogger{s: l.s.With(args...)}
}
