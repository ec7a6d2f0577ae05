package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttle emits at most one warning per interval and counts what it
// suppressed in between. Used for per-event conditions such as queue drops.
//
// Throttle is safe for concurrent use.
type Throttle struct {
	log        *slog.Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

// NewThrottle creates a throttle that logs through log at most once per interval.
func NewThrottle(log *slog.Logger, interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = time.Second
	}
	return &Throttle{
		log:     log,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Warn logs msg if the limiter allows it, otherwise counts it.
// The emitted entry carries the number of suppressed messages since the last one.
func (t *Throttle) Warn(msg string, args ...any) {
	t.emit(slog.LevelWarn, msg, args)
}

// Error is Warn at error level.
func (t *Throttle) Error(msg string, args ...any) {
	t.emit(slog.LevelError, msg, args)
}

func (t *Throttle) emit(level slog.Level, msg string, args []any) {
	if !t.limiter.Allow() {
		t.suppressed.Add(1)
		return
	}
	if n := t.suppressed.Swap(0); n > 0 {
		args = append(args, "suppressed", n)
	}
	t.log.Log(context.Background(), level, msg, args...)
}

// Suppressed returns the number of messages dropped since the last emitted one.
func (t *Throttle) Suppressed() int64 {
	return t.suppressed.Load()
}
