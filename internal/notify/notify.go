// Package notify delivers fire-and-forget user-visible messages.
// Notifications are advisory only: they are never required for correctness
// and implementations must not block the caller.
package notify

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/notelink/notelink/internal/errors"
)

// Level indicates notification urgency.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier delivers a message to the user. Implementations must be
// non-blocking and safe for concurrent use.
type Notifier interface {
	Notify(level Level, message string)
}

// Func adapts a function to the Notifier interface.
type Func func(level Level, message string)

// Notify implements Notifier.
func (f Func) Notify(level Level, message string) {
	f(level, message)
}

// Nop discards all notifications.
var Nop Notifier = Func(func(Level, string) {})

// Slog routes notifications to the default structured logger.
type Slog struct{}

// Notify implements Notifier.
func (Slog) Notify(level Level, message string) {
	switch level {
	case LevelError:
		slog.Error(message)
	case LevelWarning:
		slog.Warn(message)
	default:
		slog.Info(message)
	}
}

// Writer prints notifications to an io.Writer (typically stderr).
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriter creates a writer-backed notifier.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Notify implements Notifier.
func (w *Writer) Notify(level Level, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = fmt.Fprintf(w.out, "[%s] %s\n", level, message)
}

// Throttled suppresses repeated notifications of the same error class,
// preventing notification storms when a backend fails in a loop.
type Throttled struct {
	inner    Notifier
	throttle *errors.Throttle
}

// NewThrottled wraps a notifier with per-error-code rate limiting.
func NewThrottled(inner Notifier, throttle *errors.Throttle) *Throttled {
	if throttle == nil {
		throttle = errors.NewThrottle(0)
	}
	return &Throttled{inner: inner, throttle: throttle}
}

// Notify implements Notifier. Messages keyed by content pass through the
// cooldown window; suppressed messages are still logged at debug.
func (t *Throttled) Notify(level Level, message string) {
	if !t.throttle.Allow(message) {
		slog.Debug("notification suppressed", slog.String("message", message))
		return
	}
	t.inner.Notify(level, message)
}

// NotifyError surfaces an error once per cooldown window, keyed by its code.
func (t *Throttled) NotifyError(err error) {
	if err == nil {
		return
	}
	if !t.throttle.AllowError(err) {
		slog.Debug("error notification suppressed", slog.String("error", err.Error()))
		return
	}
	t.inner.Notify(LevelError, err.Error())
}
