package exam

import (
	"sync/atomic"
	"testing"
	"time"
)

const testTick = 2 * time.Millisecond

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestCountdownExpiresOnce(t *testing.T) {
	var fired int32
	c := newCountdownWithInterval(3, testTick, func() {
		atomic.AddInt32(&fired, 1)
	})
	c.Start()

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&fired) > 0 })

	// A second start after expiry must not rearm the callback.
	c.Start()
	c.Resume()
	time.Sleep(20 * testTick)

	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("expected expiry to fire exactly once, fired %d times", got)
	}
	if c.Remaining() != 0 {
		t.Fatalf("expected 0 remaining after expiry, got %d", c.Remaining())
	}
}

func TestCountdownPauseFreezesRemaining(t *testing.T) {
	c := newCountdownWithInterval(1000, testTick, nil)
	c.Start()

	waitFor(t, time.Second, func() bool { return c.Remaining() < 1000 })
	c.Pause()

	frozen := c.Remaining()
	time.Sleep(20 * testTick)
	if got := c.Remaining(); got != frozen {
		t.Fatalf("paused timer kept ticking: %d -> %d", frozen, got)
	}

	c.Resume()
	waitFor(t, time.Second, func() bool { return c.Remaining() < frozen })
	c.Cancel()
}

func TestCountdownRemainingIsMonotonic(t *testing.T) {
	c := newCountdownWithInterval(500, testTick, nil)
	c.Start()
	defer c.Cancel()

	prev := c.Remaining()
	for i := 0; i < 50; i++ {
		time.Sleep(testTick)
		cur := c.Remaining()
		if cur > prev {
			t.Fatalf("remaining increased from %d to %d", prev, cur)
		}
		prev = cur
	}
}

func TestCountdownCancelPreventsExpiry(t *testing.T) {
	var fired int32
	c := newCountdownWithInterval(2, testTick, func() {
		atomic.AddInt32(&fired, 1)
	})
	c.Start()
	c.Cancel()
	time.Sleep(20 * testTick)

	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("cancelled timer must not fire")
	}
}

func TestCountdownReset(t *testing.T) {
	c := newCountdownWithInterval(1, testTick, nil)
	c.Start()
	waitFor(t, time.Second, func() bool { return c.Remaining() == 0 })

	c.Reset(10)
	if c.Remaining() != 10 {
		t.Fatalf("expected 10 after reset, got %d", c.Remaining())
	}

	c.Start()
	waitFor(t, time.Second, func() bool { return c.Remaining() < 10 })
	c.Cancel()
}
