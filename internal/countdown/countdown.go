// Package countdown implements the reusable abort-modal primitive: open,
// tick a visible countdown, and fire a completion callback exactly once on
// user confirm, on the visible countdown reaching zero, or on an
// independent hard timeout — whichever happens first. It carries no
// knowledge of why it was started; the orchestrator reuses it for both the
// draft-abort and session-dead flows with different completions.
package countdown

import (
	"sync"
	"time"
)

// State is the controller's modal state.
type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

// Option configures a Controller.
type Option func(*Controller)

// WithInterval overrides the visible countdown cadence (default 1s).
func WithInterval(d time.Duration) Option {
	return func(c *Controller) { c.interval = d }
}

// Controller drives one open/closed countdown cycle at a time.
type Controller struct {
	mu           sync.Mutex
	startSeconds int
	hardTimeout  time.Duration
	interval     time.Duration

	state     State
	remaining int
	fired     bool
	gen       int
	hardTimer *time.Timer
	complete  func()
	onTick    func(remaining int)
}

// New creates a closed controller. startSeconds seeds the visible
// countdown; hardTimeout arms the independent completion deadline.
func New(startSeconds int, hardTimeout time.Duration, opts ...Option) *Controller {
	c := &Controller{
		startSeconds: startSeconds,
		hardTimeout:  hardTimeout,
		interval:     time.Second,
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnTick registers the visible-countdown observer.
func (c *Controller) OnTick(fn func(remaining int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTick = fn
}

// State returns the current modal state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining returns the visible countdown value.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Start opens the modal and arms both timers. A no-op while already open.
func (c *Controller) Start(onComplete func()) {
	c.mu.Lock()
	if c.state == StateOpen {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.state = StateOpen
	c.fired = false
	c.remaining = c.startSeconds
	c.complete = onComplete
	c.hardTimer = time.AfterFunc(c.hardTimeout, func() { c.fire(gen) })
	c.mu.Unlock()

	go c.tickLoop(gen)
}

// Confirm completes the countdown on behalf of the user.
func (c *Controller) Confirm() {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.fire(gen)
}

// Cancel closes the modal without invoking the completion callback.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.state = StateClosed
	if c.hardTimer != nil {
		c.hardTimer.Stop()
	}
}

// fire invokes the completion exactly once; the guard closes the race
// between the interval reaching zero, the hard timeout, and Confirm.
func (c *Controller) fire(gen int) {
	c.mu.Lock()
	if c.gen != gen || c.fired || c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.fired = true
	c.state = StateClosed
	c.gen++
	if c.hardTimer != nil {
		c.hardTimer.Stop()
	}
	complete := c.complete
	c.mu.Unlock()

	if complete != nil {
		complete()
	}
}

func (c *Controller) tickLoop(gen int) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		if c.gen != gen || c.state != StateOpen {
			c.mu.Unlock()
			return
		}
		c.remaining--
		remaining, onTick := c.remaining, c.onTick
		c.mu.Unlock()

		if onTick != nil {
			onTick(remaining)
		}
		if remaining <= 0 {
			c.fire(gen)
			return
		}
	}
}
