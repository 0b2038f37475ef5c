package exam

import (
	"sync"
	"time"
)

// Countdown is an owned, cancellable one-second wall-clock timer. It
// ticks only while running, so a paused session loses no time, and the
// expiry callback fires at most once no matter how the timer is driven.
type Countdown struct {
	mu        sync.Mutex
	remaining int
	interval  time.Duration
	running   bool
	fired     bool
	stop      chan struct{}
	onExpire  func()
}

func NewCountdown(seconds int, onExpire func()) *Countdown {
	return newCountdownWithInterval(seconds, time.Second, onExpire)
}

func newCountdownWithInterval(seconds int, interval time.Duration, onExpire func()) *Countdown {
	if seconds < 0 {
		seconds = 0
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Countdown{
		remaining: seconds,
		interval:  interval,
		onExpire:  onExpire,
	}
}

func (c *Countdown) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || c.fired {
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	go c.loop(c.stop)
}

// Pause stops the tick loop and freezes the remaining time.
func (c *Countdown) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halt()
}

func (c *Countdown) Resume() {
	c.Start()
}

// Cancel stops the timer permanently; the expiry callback will never fire.
func (c *Countdown) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fired = true
	c.halt()
}

func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Reset cancels the current run and rearms the timer at the given value
// without starting it.
func (c *Countdown) Reset(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seconds < 0 {
		seconds = 0
	}
	c.halt()
	c.remaining = seconds
	c.fired = false
}

// halt must be called with c.mu held.
func (c *Countdown) halt() {
	if !c.running {
		return
	}
	c.running = false
	close(c.stop)
	c.stop = nil
}

func (c *Countdown) loop(stop chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if expired := c.tick(); expired {
				if c.onExpire != nil {
					c.onExpire()
				}
				return
			}
		}
	}
}

// tick decrements once and reports whether this call consumed the final
// second. The fired guard makes expiry single-shot even if a stale loop
// races a restart.
func (c *Countdown) tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.fired {
		return false
	}
	if c.remaining > 0 {
		c.remaining--
	}
	if c.remaining > 0 {
		return false
	}
	c.fired = true
	c.running = false
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	return true
}
