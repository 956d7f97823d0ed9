package netlib

import (
	"io"
	"log/slog"
)

// Logger receives the library's structured log output as a message plus key/value pairs.
// A *slog.Logger satisfies it; so does any adapter with the same four methods.
// Without LoggerOption nothing is logged. Every call is made through a wrapper
// that recovers a panic raised by the Logger, so logging never aborts a send,
// a receive or a shutdown.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	// Warn reports failures the library recovers from, such as a failed dial or broadcast write.
	Warn(msg string, args ...any)
	// Error reports failures on the accept path.
	Error(msg string, args ...any)
}

// defaultLogger returns a logger that discards everything.
func defaultLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// safeLogger shields the caller from a misbehaving Logger: a panic raised
// while logging is swallowed so the operation being logged still completes.
type safeLogger struct {
	l Logger
}

func newSafeLogger(l Logger) safeLogger {
	if s, ok := l.(safeLogger); ok {
		return s
	}
	return safeLogger{l: l}
}

func (s safeLogger) Debug(msg string, args ...any) {
	defer recoverLog()
	s.l.Debug(msg, args...)
}

func (s safeLogger) Info(msg string, args ...any) {
	defer recoverLog()
	s.l.Info(msg, args...)
}

func (s safeLogger) Warn(msg string, args ...any) {
	defer recoverLog()
	s.l.Warn(msg, args...)
}

func (s safeLogger) Error(msg string, args ...any) {
	defer recoverLog()
	s.l.Error(msg, args...)
}

func recoverLog() {
	_ = recover()
}
