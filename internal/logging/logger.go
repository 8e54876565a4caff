package logging

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// nopHandler discards every record. Enabled reports false so callers skip
// formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// SetLogger installs the logger used by every voxrt package.
// By default nothing is logged. Passing nil restores the silent default.
//
// Levels:
//   - Debug: per-build sizes, buffer lifetimes
//   - Info: device selection, chunk add/remove
//   - Warn: recoverable oddities (edits outside any chunk)
//   - Error: emitted right before a fatal panic
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger. Safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// Fatalf logs msg at error level and panics with the same text.
// Used for capacity exhaustion and broken preconditions, which are sizing
// bugs rather than runtime conditions.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	Logger().Error(msg)
	panic(msg)
}
