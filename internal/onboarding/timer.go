package onboarding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/propline/onboarding/internal/logging"
)

// Timer periodically deletes expired, uncompleted sessions. Expiry is
// enforced at read time; the timer only keeps the table small.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewTimer creates a new cleanup timer.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logging.Component(logger, "session_reaper"),
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the cleanup loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeRun(ctx)
		}
	}
}

// Stop signals the timer to stop. Safe to call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in session cleanup", "panic", fmt.Sprint(r))
		}
	}()

	n, err := t.service.CleanupExpired(ctx)
	if err != nil {
		t.logger.Warn("session cleanup failed", "error", err)
		return
	}
	if n > 0 {
		t.logger.Info("expired sessions deleted", "count", n)
	}
}
