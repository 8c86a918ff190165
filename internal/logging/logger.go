package logging

import (
	"fmt"
	"log"
	"os"
	"reflect"
)

// Logger defines a minimal, printf-style logging contract.
//
// It intentionally matches the agent domain logger interface so code can depend
// on this package without importing internal/agent/ports.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// componentLogger prefixes every line with a severity and component tag.
type componentLogger struct {
	component string
	out       *log.Logger
	debug     bool
}

// NewComponentLogger returns the default application logger scoped to a
// component. Debug output is enabled via ARIA_DEBUG=1.
func NewComponentLogger(component string) Logger {
	return &componentLogger{
		component: component,
		out:       log.New(os.Stderr, "", log.LstdFlags),
		debug:     os.Getenv("ARIA_DEBUG") == "1",
	}
}

func (l *componentLogger) log(level, format string, args ...any) {
	l.out.Printf("[%s] [%s] %s", level, l.component, fmt.Sprintf(format, args...))
}

func (l *componentLogger) Debug(format string, args ...any) {
	if !l.debug {
		return
	}
	l.log("DEBUG", format, args...)
}

func (l *componentLogger) Info(format string, args ...any) {
	l.log("INFO", format, args...)
}

func (l *componentLogger) Warn(format string, args ...any) {
	l.log("WARN", format, args...)
}

func (l *componentLogger) Error(format string, args ...any) {
	l.log("ERROR", format, args...)
}

type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger fan-out that calls every non-nil logger in order.
func Multi(loggers ...Logger) Logger {
	flattened := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if IsNil(logger) {
			continue
		}
		if ml, ok := logger.(*multiLogger); ok {
			flattened = append(flattened, ml.loggers...)
			continue
		}
		flattened = append(flattened, logger)
	}
	if len(flattened) == 0 {
		return Nop()
	}
	if len(flattened) == 1 {
		return flattened[0]
	}
	return &multiLogger{loggers: flattened}
}

func (l *multiLogger) Debug(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Debug(format, args...)
	}
}

func (l *multiLogger) Info(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Info(format, args...)
	}
}

func (l *multiLogger) Warn(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Warn(format, args...)
	}
}

func (l *multiLogger) Error(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Error(format, args...)
	}
}
