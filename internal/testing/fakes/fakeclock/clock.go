// Package fakeclock provides a controllable Clock implementation for testing.
package fakeclock

import (
	"sync"
	"time"

	"github.com/acolita/remote-vms/internal/ports"
)

// Clock is a fake clock that tests control explicitly: time only moves via
// Advance or Set, and tickers only fire via Tick or TickAll.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	tickers []*fakeTicker
}

// New creates a new fake clock initialized to the given time.
func New(initial time.Time) *Clock {
	return &Clock{current: initial}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NewTicker returns a fake ticker. The clock keeps a reference so tests
// can fire ticks via TickAll.
func (c *Clock) NewTicker(d time.Duration) ports.Ticker {
	t := &fakeTicker{
		clock:    c,
		interval: d,
		ch:       make(chan time.Time, 1),
	}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	return t
}

// TickAll fires one tick on every ticker created from this clock that has
// not been stopped. It lets tests drive code that owns its ticker
// internally, such as a background probe loop.
func (c *Clock) TickAll() {
	c.mu.Lock()
	tickers := make([]*fakeTicker, len(c.tickers))
	copy(tickers, c.tickers)
	c.mu.Unlock()

	for _, t := range tickers {
		t.Tick()
	}
}

// Advance moves the clock forward by duration d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

// Set sets the clock to a specific time.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// fakeTicker is a manually driven ticker.
type fakeTicker struct {
	clock    *Clock
	interval time.Duration
	ch       chan time.Time
	mu       sync.Mutex
	stopped  bool
}

// C returns the channel on which ticks are delivered.
func (t *fakeTicker) C() <-chan time.Time {
	return t.ch
}

// Stop turns off the ticker.
func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// Tick delivers one tick unless the ticker is stopped. Delivery is
// non-blocking: a tick nobody is ready to receive is dropped, like a real
// ticker's.
func (t *fakeTicker) Tick() {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()

	if !stopped {
		select {
		case t.ch <- t.clock.Now():
		default:
		}
	}
}

// Ensure Clock implements ports.Clock.
var _ ports.Clock = (*Clock)(nil)
