package fog

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/fog/internal/gpu"
	"github.com/gogpu/fog/internal/hotreload"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for fog and all its sub-packages.
// By default, fog produces no log output. Pass nil to restore that.
//
// Log levels used by fog:
//   - [slog.LevelDebug]: stage creation, dispatch sizes, per-frame submissions
//   - [slog.LevelInfo]: pipeline created, released, kernels reloaded
//   - [slog.LevelWarn]: a reloaded kernel was rejected
//
// Example:
//
//	fog.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	gpu.SetLogger(l)
	hotreload.SetLogger(l)
}

// Logger returns the current logger used by fog.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
