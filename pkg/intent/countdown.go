package intent

import (
	"sync"
	"time"
)

type countdownState int

const (
	countdownArmed countdownState = iota
	countdownFired
	countdownCancelled
)

// Countdown runs a callback after a delay unless cancelled first. The
// callback executes at most once whether the timer expires, FireNow is
// called, or both race. Reset re-arms a live countdown with a fresh
// delay.
type Countdown struct {
	mu    sync.Mutex
	timer *time.Timer
	state countdownState
	gen   int
	fn    func()
}

// NewCountdown arms a countdown that calls fn after delay.
func NewCountdown(delay time.Duration, fn func()) *Countdown {
	c := &Countdown{fn: fn}
	c.arm(delay)
	return c
}

// arm starts the timer for the current generation. Callers hold mu or
// have exclusive access (construction).
func (c *Countdown) arm(delay time.Duration) {
	gen := c.gen
	c.timer = time.AfterFunc(delay, func() { c.fire(gen) })
}

func (c *Countdown) fire(gen int) {
	c.mu.Lock()
	// A stale generation means the countdown was reset after this timer
	// expired but before it took the lock.
	if c.state != countdownArmed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = countdownFired
	fn := c.fn
	c.mu.Unlock()

	fn()
}

// Reset re-arms the countdown with a fresh delay, replacing the running
// timer. It reports false when the callback already ran or the countdown
// was cancelled.
func (c *Countdown) Reset(delay time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != countdownArmed {
		return false
	}
	c.timer.Stop()
	c.gen++
	c.arm(delay)
	return true
}

// FireNow runs the callback immediately. It reports false when the
// countdown already fired or was cancelled.
func (c *Countdown) FireNow() bool {
	c.mu.Lock()
	if c.state != countdownArmed {
		c.mu.Unlock()
		return false
	}
	c.state = countdownFired
	c.timer.Stop()
	fn := c.fn
	c.mu.Unlock()

	fn()
	return true
}

// Cancel stops the countdown. It reports false when the callback already
// ran or the countdown was cancelled before.
func (c *Countdown) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != countdownArmed {
		return false
	}
	c.state = countdownCancelled
	c.timer.Stop()
	return true
}

// Pending reports whether the countdown is still armed.
func (c *Countdown) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == countdownArmed
}
