// Package alarm provides the watchdog's one-shot, re-armable wake-up.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/keepalive/internal/services"
)

// ErrStopped is returned by Arm after Stop.
var ErrStopped = errors.New("alarm stopped")

// keyNextWake is the settings key holding the pending wake-up time.
const keyNextWake = "alarm.next_wake"

// Clock is the time source. AfterFunc returns a func that cancels the timer
// and reports whether it was still pending.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) func() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Option configures a Timer.
type Option func(*Timer)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(t *Timer) { t.clock = c }
}

// WithSettings persists the pending wake-up so Restore can re-arm it after a
// process restart.
func WithSettings(s services.SettingsRepository) Option {
	return func(t *Timer) { t.settings = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Timer) { t.logger = l }
}

// Timer is a one-shot alarm. Arming replaces any pending wake-up; fires are
// delivered on C. Fires that are not consumed before the next one coalesce.
type Timer struct {
	clock    Clock
	settings services.SettingsRepository
	logger   *zap.Logger
	c        chan time.Time

	mu      sync.Mutex
	gen     uint64
	cancel  func() bool
	at      time.Time
	pending bool
	stopped bool
}

// New creates an unarmed Timer.
func New(opts ...Option) *Timer {
	t := &Timer{
		clock:  realClock{},
		logger: zap.NewNop(),
		c:      make(chan time.Time, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// C returns the fire channel.
func (t *Timer) C() <-chan time.Time {
	return t.c
}

// Arm schedules a wake-up at the given time, replacing any pending one. A
// time in the past fires immediately.
func (t *Timer) Arm(at time.Time) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return ErrStopped
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.gen++
	gen := t.gen
	t.at = at
	t.pending = true
	d := at.Sub(t.clock.Now())
	t.mu.Unlock()

	// AfterFunc may fire synchronously for d <= 0, so it runs unlocked.
	cancel := t.clock.AfterFunc(d, func() { t.fire(gen) })

	t.mu.Lock()
	if t.gen == gen && t.pending {
		t.cancel = cancel
	}
	t.mu.Unlock()

	if t.settings != nil {
		if err := t.settings.Set(context.Background(), keyNextWake, at.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("persist next wake: %w", err)
		}
	}
	return nil
}

// Restore re-arms a wake-up persisted by a previous process. Overdue
// wake-ups fire immediately. It reports whether anything was restored.
func (t *Timer) Restore(ctx context.Context) (time.Time, bool, error) {
	if t.settings == nil {
		return time.Time{}, false, nil
	}
	s, err := t.settings.Get(ctx, keyNextWake)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("load next wake: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, s.Value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse next wake %q: %w", s.Value, err)
	}

	t.logger.Info("restoring pending wake-up", zap.Time("at", at))
	if err := t.Arm(at); err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// Next returns the pending wake-up time, if any.
func (t *Timer) Next() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.at, t.pending
}

// Stop cancels the pending wake-up and rejects further Arm calls. The
// persisted wake-up is kept so the next process can restore it.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.pending = false
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.pending || t.stopped {
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.cancel = nil
	at := t.at
	t.mu.Unlock()

	select {
	case t.c <- at:
	default:
		t.logger.Debug("alarm fire coalesced", zap.Time("at", at))
	}
}
