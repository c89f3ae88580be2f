package logger

import "codeberg.org/mutker/upsplusd/internal/errors"

// Logger defines the interface for logging operations.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err errors.Error) *LogEvent
}

type globalLogger struct{}

// Default returns a Logger backed by the package-level logger.
func Default() Logger {
	return globalLogger{}
}

func (globalLogger) Debug() *LogEvent { return Debug() }

func (globalLogger) Info() *LogEvent { return Info() }

func (globalLogger) Warn() *LogEvent { return Warn() }

func (globalLogger) Error() *LogEvent { return Error() }

func (globalLogger) ErrorWithCode(err errors.Error) *LogEvent { return ErrorWithCode(err) }
