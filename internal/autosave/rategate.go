package autosave

import (
	"sync"
	"time"
)

// RateGate enforces a minimum gap between remote reconciliation attempts.
// A request arriving inside the cooldown window is deferred to fire exactly
// once after the cooldown elapses — several near-simultaneous triggers
// (debounce timeout, visibility change, explicit probe) coalesce into one
// deferred firing that reads the latest data at call time.
type RateGate struct {
	mu      sync.Mutex
	minGap  time.Duration
	last    time.Time
	pending bool
	timer   *time.Timer
}

// NewRateGate creates a gate with the given minimum gap.
func NewRateGate(minGap time.Duration) *RateGate {
	return &RateGate{minGap: minGap}
}

// Request fires fn now if the cooldown has elapsed, otherwise schedules a
// single deferred firing. fn must snapshot its own data when it runs.
func (g *RateGate) Request(fn func()) {
	g.mu.Lock()

	elapsed := time.Since(g.last)
	if elapsed >= g.minGap {
		g.last = time.Now()
		g.mu.Unlock()
		fn()
		return
	}

	if g.pending {
		g.mu.Unlock()
		return
	}
	g.pending = true
	g.timer = time.AfterFunc(g.minGap-elapsed, func() {
		g.mu.Lock()
		g.pending = false
		g.last = time.Now()
		g.mu.Unlock()
		fn()
	})
	g.mu.Unlock()
}

// Stop cancels any deferred firing.
func (g *RateGate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = false
	if g.timer != nil {
		g.timer.Stop()
	}
}
