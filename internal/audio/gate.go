// Package audio enforces "at most one audio source plays at a time" across
// independently-mounted playback widgets. The gate is an explicit,
// injectable singleton with a narrow interface and a subscription channel
// rather than ambient shared state, so it stays unit-testable without a UI
// harness.
package audio

import "sync"

// Gate holds the single ownership token naming the current lock holder.
// Acquisition is strictly first-come, non-preemptive: a second widget must
// fail closed, never block or queue. The gate never times out a stale lock;
// widgets release on their own terminal events.
type Gate struct {
	mu      sync.Mutex
	owner   string
	subs    map[int]func(owner string)
	nextSub int
}

// Default is the process-wide gate shared by all playback widgets.
var Default = NewGate()

// NewGate creates an independent gate, mainly for tests.
func NewGate() *Gate {
	return &Gate{subs: make(map[int]func(string))}
}

// TryAcquire succeeds iff there is no owner or the owner is already id.
// On success the caller becomes (or remains) the owner and subscribers are
// notified.
func (g *Gate) TryAcquire(id string) bool {
	g.mu.Lock()
	if g.owner != "" && g.owner != id {
		g.mu.Unlock()
		return false
	}
	g.owner = id
	g.mu.Unlock()

	g.notify()
	return true
}

// Release clears ownership only if id is the current holder. It always
// notifies subscribers, even as a no-op, so widget cleanup paths can call
// it unconditionally.
func (g *Gate) Release(id string) {
	g.mu.Lock()
	if g.owner == id {
		g.owner = ""
	}
	g.mu.Unlock()

	g.notify()
}

// IsLockedByOther reports whether some other widget currently holds the gate.
func (g *Gate) IsLockedByOther(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner != "" && g.owner != id
}

// Owner returns the current holder id, or "" when the gate is free.
func (g *Gate) Owner() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner
}

// Subscribe registers an observer called with the owner after every
// acquire/release. Returns an unsubscribe func; safe under rapid
// mount/unmount churn.
func (g *Gate) Subscribe(fn func(owner string)) func() {
	g.mu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()
	}
}

func (g *Gate) notify() {
	g.mu.Lock()
	owner := g.owner
	fns := make([]func(string), 0, len(g.subs))
	for _, fn := range g.subs {
		fns = append(fns, fn)
	}
	g.mu.Unlock()

	for _, fn := range fns {
		fn(owner)
	}
}
