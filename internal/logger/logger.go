package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ValidLogLevels enumerates the accepted log level names.
var ValidLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// LoggingConfig is the subset of the configuration the logger needs. It is
// an interface to avoid an import cycle with the config package.
type LoggingConfig interface {
	GetComponentLevel(component string) string
	GetDefaultLevel() string
	IsDevelopment() bool
}

// Logger wraps zap.SugaredLogger to provide a consistent logging interface
// across the project. It provides both structured logging (with fields) and
// printf-style logging methods. The level can be changed at runtime and is
// shared with every child logger created through WithComponent.
type Logger struct {
	*zap.SugaredLogger
	atomicLevel zap.AtomicLevel
	component   string
}

// NewLogger creates a new logger with the specified configuration.
// level can be "debug", "info", "warn", "error".
// development mode enables stack traces and uses console encoder.
func NewLogger(level string, development bool) (*Logger, error) {
	var config zap.Config

	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	atomicLevel := zap.NewAtomicLevelAt(zapLevel)
	config.Level = atomicLevel

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{
		SugaredLogger: zapLogger.Sugar(),
		atomicLevel:   atomicLevel,
	}, nil
}

// NewComponentLogger creates a logger pre-tagged with a component name.
// It panics on an invalid level; use it only with vetted configuration.
func NewComponentLogger(component, level string, development bool) *Logger {
	l, err := NewLogger(level, development)
	if err != nil {
		panic(err)
	}
	return l.WithComponent(component)
}

// NewComponentLoggerFromConfig creates a component logger from a logging
// configuration. A nil config yields an info-level production logger.
func NewComponentLoggerFromConfig(component string, cfg LoggingConfig) *Logger {
	level := "info"
	development := false
	if cfg != nil {
		level = cfg.GetComponentLevel(component)
		development = cfg.IsDevelopment()
	}
	return NewComponentLogger(component, level, development)
}

// NewNopLogger creates a no-op logger that discards all logs.
// Useful for testing.
func NewNopLogger() *Logger {
	return &Logger{
		SugaredLogger: zap.NewNop().Sugar(),
		atomicLevel:   zap.NewAtomicLevel(),
	}
}

// WithComponent creates a child logger with a component name field.
// The child shares the parent's atomic level.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		SugaredLogger: l.With("component", component),
		atomicLevel:   l.atomicLevel,
		component:     component,
	}
}

// WithHandle creates a child logger carrying a registration handle field.
func (l *Logger) WithHandle(handle string) *Logger {
	return &Logger{
		SugaredLogger: l.With("handle", handle),
		atomicLevel:   l.atomicLevel,
		component:     l.component,
	}
}

// GetLevel returns the current log level name.
func (l *Logger) GetLevel() string {
	return l.atomicLevel.Level().String()
}

// SetLevel changes the log level at runtime. The level is left unchanged if
// the name does not parse.
func (l *Logger) SetLevel(level string) error {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	l.atomicLevel.SetLevel(zapLevel)
	return nil
}

// GetComponent returns the component name this logger is tagged with.
func (l *Logger) GetComponent() string {
	return l.component
}

// Close flushes any buffered log entries.
func (l *Logger) Close() error {
	return l.Sync()
}
