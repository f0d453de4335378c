package logger

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a component-scoped logger. Printf-style helpers are for
// human-facing output; Zap exposes the structured logger for hot paths.
type Logger struct {
	component string
	zap       *zap.Logger
	sugar     *zap.SugaredLogger
}

var (
	baseOnce sync.Once
	base     *zap.Logger

	successPrefix = color.New(color.FgGreen, color.Bold).SprintFunc()
)

func root() *zap.Logger {
	baseOnce.Do(func() {
		base = build(os.Getenv("APP_ENV") == "production", os.Getenv("LOG_LEVEL"))
	})
	return base
}

func build(production bool, level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.Set(strings.ToLower(level)); err != nil {
			lvl = zapcore.InfoLevel
		}
	}

	var cfg zap.Config
	if production {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// New returns a logger tagged with the given component name.
func New(component string) *Logger {
	return newWith(root(), component)
}

// NewNop returns a logger that discards everything. Handy in tests.
func NewNop() *Logger {
	return newWith(zap.NewNop(), "nop")
}

// NewWithZap wraps an existing zap logger, e.g. zaptest or an observer core.
func NewWithZap(z *zap.Logger, component string) *Logger {
	return newWith(z, component)
}

func newWith(z *zap.Logger, component string) *Logger {
	named := z.Named(component)
	// the printf helpers add one frame between the caller and zap
	helpers := named.WithOptions(zap.AddCallerSkip(1))
	return &Logger{
		component: component,
		zap:       named,
		sugar:     helpers.Sugar(),
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Info(render(format, args))
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warn(render(format, args))
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debug(render(format, args))
}

func (l *Logger) Success(format string, args ...interface{}) {
	l.sugar.Info(successPrefix("✔ ") + render(format, args))
}

// Error logs msg and returns it as an error. When the last argument is an
// error it is wrapped, so callers can `return log.Error("op failed", err)`
// and keep errors.Is working.
func (l *Logger) Error(msg string, args ...interface{}) error {
	var cause error
	if n := len(args); n > 0 {
		if e, ok := args[n-1].(error); ok {
			cause = e
		}
	}

	text := render(msg, args)
	l.sugar.Error(text)

	if cause == nil {
		return errors.New(text)
	}
	return &loggedError{text: text, cause: cause}
}

type loggedError struct {
	text  string
	cause error
}

func (e *loggedError) Error() string { return e.text }
func (e *loggedError) Unwrap() error { return e.cause }

// Zap returns the structured logger for this component.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// Sugar returns the sugared logger; it satisfies asynq.Logger.
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.zap.Sugar()
}

func (l *Logger) Sync() error {
	return l.zap.Sync()
}

func render(format string, args []interface{}) string {
	if len(args) == 0 {
		return format
	}
	if strings.Contains(format, "%") {
		return fmt.Sprintf(format, args...)
	}
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, format)
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	return strings.Join(parts, ": ")
}
