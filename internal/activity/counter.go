// Package activity tracks in-flight asynchronous operations and derives a
// debounced busy signal from them.
//
// The signal follows a four-state machine:
//
//	Idle --Begin(0->1)--> PendingShow --show timer--> Visible
//	PendingShow --count=0--> Idle          (show timer cancelled, no flicker)
//	Visible --count=0--> PendingHide --hide timer--> Idle
//	PendingHide --Begin--> Visible         (hide timer cancelled)
//
// A burst shorter than the show delay never becomes visible, and once
// visible the signal stays up for at least the minimum display time.
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/sho7650/media-stage/internal/clock"
	"github.com/sho7650/media-stage/internal/logger"
)

// Default timings of the busy indicator.
const (
	DefaultShowDelay  = 200 * time.Millisecond
	DefaultMinDisplay = 300 * time.Millisecond
)

// Config holds the busy indicator timings.
type Config struct {
	// ShowDelay is how long the count must stay above zero before the
	// signal becomes visible.
	ShowDelay time.Duration
	// MinDisplay is how long the signal stays visible after the count
	// returns to zero.
	MinDisplay time.Duration
}

// Snapshot is a read-only copy of the counter state.
type Snapshot struct {
	Count   int   `json:"count"`
	Visible bool  `json:"visible"`
	State   State `json:"state"`
}

// pendingTimer is a scheduled transition. Timer callbacks compare their own
// handle against the counter's current one, so a fire racing a Stop is dropped.
type pendingTimer struct {
	t clock.Timer
}

// Counter counts in-flight operations and publishes the busy signal.
// All methods are safe for concurrent use.
type Counter struct {
	mu      sync.Mutex
	clock   clock.Clock
	cfg     Config
	metrics *Metrics

	count   int
	visible bool
	show    *pendingTimer
	hide    *pendingTimer

	nextSub uint64
	subs    map[uint64]chan bool
	closed  bool
}

// Option configures a Counter.
type Option func(*Counter)

// WithMetrics exports the counter state to m.
func WithMetrics(m *Metrics) Option {
	return func(c *Counter) {
		c.metrics = m
	}
}

// NewCounter creates a Counter. Zero durations in cfg fall back to the
// defaults.
func NewCounter(clk clock.Clock, cfg Config, opts ...Option) *Counter {
	if cfg.ShowDelay <= 0 {
		cfg.ShowDelay = DefaultShowDelay
	}
	if cfg.MinDisplay <= 0 {
		cfg.MinDisplay = DefaultMinDisplay
	}

	c := &Counter{
		clock: clk,
		cfg:   cfg,
		subs:  make(map[uint64]chan bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin records the start of an operation.
func (c *Counter) Begin() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.count++
	c.metrics.setInFlight(c.count)

	// PendingHide -> Visible
	if c.hide != nil {
		c.hide.t.Stop()
		c.hide = nil
		c.metrics.transition(StateVisible)
	}

	// Idle -> PendingShow
	if c.count == 1 && !c.visible && c.show == nil {
		c.show = c.schedule(c.cfg.ShowDelay, c.fireShow)
		c.metrics.transition(StatePendingShow)
	}
}

// End records the completion of an operation, successful or not. An End
// without a matching Begin is reported and otherwise ignored.
func (c *Counter) End() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if c.count == 0 {
		c.metrics.imbalance()
		logger.Warn("activity: end called without matching begin", "component", "activity")
		return
	}

	c.count--
	c.metrics.setInFlight(c.count)
	if c.count > 0 {
		return
	}

	switch {
	case c.show != nil:
		// PendingShow -> Idle
		c.show.t.Stop()
		c.show = nil
		c.metrics.transition(StateIdle)
	case c.visible && c.hide == nil:
		// Visible -> PendingHide
		c.hide = c.schedule(c.cfg.MinDisplay, c.fireHide)
		c.metrics.transition(StatePendingHide)
	}
}

// Track runs fn between Begin and End. End runs even if fn panics.
func (c *Counter) Track(ctx context.Context, fn func(context.Context) error) error {
	c.Begin()
	defer c.End()
	return fn(ctx)
}

// schedule arms a timer whose callback receives its own handle.
// Must be called with c.mu held; the callback blocks on c.mu until the
// caller has stored the handle.
func (c *Counter) schedule(d time.Duration, fire func(*pendingTimer)) *pendingTimer {
	p := &pendingTimer{}
	p.t = c.clock.AfterFunc(d, func() { fire(p) })
	return p
}

func (c *Counter) fireShow(p *pendingTimer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.show != p {
		return
	}
	c.show = nil

	// Cancellation on count=0 already covers this; the check stays so a
	// late fire can never raise the signal over an idle counter.
	if c.count == 0 {
		logger.Debug("activity: show timer fired with no operations in flight", "component", "activity")
		c.metrics.transition(StateIdle)
		return
	}

	c.setVisible(true)
	c.metrics.transition(StateVisible)
}

func (c *Counter) fireHide(p *pendingTimer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hide != p {
		return
	}
	c.hide = nil

	if c.count > 0 {
		return
	}

	c.setVisible(false)
	c.metrics.transition(StateIdle)
}

// setVisible updates the signal and notifies subscribers.
// Must be called with c.mu held.
func (c *Counter) setVisible(v bool) {
	if c.visible == v {
		return
	}
	c.visible = v
	c.metrics.setVisible(v)

	for _, ch := range c.subs {
		publish(ch, v)
	}
}

// publish replaces any unread value in ch with v. ch has capacity 1 and
// the caller is its only writer, so the send never blocks.
func publish(ch chan bool, v bool) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}

// Visible reports whether the busy indicator should be shown.
func (c *Counter) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// Count returns the number of operations in flight.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// State returns the current state of the busy indicator.
func (c *Counter) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state()
}

func (c *Counter) state() State {
	switch {
	case c.show != nil:
		return StatePendingShow
	case c.hide != nil:
		return StatePendingHide
	case c.visible:
		return StateVisible
	default:
		return StateIdle
	}
}

// Snapshot returns a consistent copy of the counter state.
func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Count: c.count, Visible: c.visible, State: c.state()}
}

// Subscribe returns a channel carrying the latest value of the busy signal,
// starting with the current one. Slow readers only ever miss intermediate
// values. The returned func unsubscribes and closes the channel.
func (c *Counter) Subscribe() (<-chan bool, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan bool, 1)
	if c.closed {
		ch <- false
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.visible

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Close tears the counter down: pending timers are cancelled, the signal
// drops to false and every subscriber channel is closed. Begin and End
// become no-ops.
func (c *Counter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if c.show != nil {
		c.show.t.Stop()
		c.show = nil
	}
	if c.hide != nil {
		c.hide.t.Stop()
		c.hide = nil
	}

	c.setVisible(false)
	c.closed = true

	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}
