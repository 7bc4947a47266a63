// Package timer provides the deadline clock for a timed attempt: a single
// countdown-to-zero with pause/resume and an expiry callback that fires
// exactly once. It holds no persistence responsibility — the server remains
// the source of truth for remaining time; this clock only mirrors it.
package timer

import (
	"sync"
	"time"
)

// Option configures a DeadlineTimer.
type Option func(*DeadlineTimer)

// WithInterval overrides the tick cadence. Tests use a short interval; the
// production default is one wall-clock second.
func WithInterval(d time.Duration) Option {
	return func(t *DeadlineTimer) { t.interval = d }
}

// DeadlineTimer counts a seconds value down to zero, one tick per interval
// while not paused. The tick that would take the value below zero clamps it
// to 0, stops the clock and invokes the expiry callback exactly once.
type DeadlineTimer struct {
	mu        sync.Mutex
	interval  time.Duration
	remaining int
	paused    bool
	running   bool
	expired   bool
	gen       int // invalidates stale tick loops
	onTick    func(remaining int)
	onExpire  func()
}

// New creates a stopped timer. Call Start to begin ticking.
func New(opts ...Option) *DeadlineTimer {
	t := &DeadlineTimer{interval: time.Second}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnTick registers the per-tick observer. It receives the remaining seconds
// after each decrement, including the final clamped 0.
func (t *DeadlineTimer) OnTick(fn func(remaining int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = fn
}

// OnExpire registers the expiry callback.
func (t *DeadlineTimer) OnExpire(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExpire = fn
}

// Start seeds the countdown and begins ticking. Restarts cleanly if the
// timer was already running.
func (t *DeadlineTimer) Start(seconds int) {
	t.restart(seconds)
}

// Reset is Start under a different intent: discard the current run and tick
// again from the given value.
func (t *DeadlineTimer) Reset(seconds int) {
	t.restart(seconds)
}

// SetRemaining replaces the remaining value and restarts ticking from it.
// Used once per session, to seed from the server's authoritative value.
func (t *DeadlineTimer) SetRemaining(seconds int) {
	t.restart(seconds)
}

func (t *DeadlineTimer) restart(seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	t.mu.Lock()
	t.gen++
	t.remaining = seconds
	t.paused = false
	t.expired = false
	t.running = true
	gen := t.gen
	t.mu.Unlock()

	go t.loop(gen)
}

// Pause suspends ticking without losing the remaining value. Idempotent.
func (t *DeadlineTimer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
}

// Resume continues ticking from the current remaining value. Idempotent;
// a no-op after expiry.
func (t *DeadlineTimer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
	if !t.running && !t.expired && t.remaining > 0 {
		t.gen++
		t.running = true
		go t.loop(t.gen)
	}
}

// Remaining returns the current remaining seconds, never negative.
func (t *DeadlineTimer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Expired reports whether the countdown has reached zero.
func (t *DeadlineTimer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

// Stop halts ticking entirely. The expiry callback will not fire.
func (t *DeadlineTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.running = false
}

func (t *DeadlineTimer) loop(gen int) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for range ticker.C {
		t.mu.Lock()
		if t.gen != gen || !t.running {
			t.mu.Unlock()
			return
		}
		if t.paused {
			t.mu.Unlock()
			continue
		}

		t.remaining--
		if t.remaining <= 0 {
			t.remaining = 0
			t.running = false
			fire := !t.expired
			t.expired = true
			onTick, onExpire := t.onTick, t.onExpire
			t.mu.Unlock()

			if onTick != nil {
				onTick(0)
			}
			if fire && onExpire != nil {
				onExpire()
			}
			return
		}

		remaining, onTick := t.remaining, t.onTick
		t.mu.Unlock()

		if onTick != nil {
			onTick(remaining)
		}
	}
}
