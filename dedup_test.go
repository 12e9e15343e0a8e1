package helpline

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestDedupFirstDeliveryProcessed(t *testing.T) {
	clk := newFakeClock()
	d := newDedupWindow(60*time.Second, clk.now)

	if !d.shouldProcess("m1") {
		t.Fatal("first delivery suppressed")
	}
	if d.shouldProcess("m1") {
		t.Error("duplicate within window processed")
	}
	if !d.shouldProcess("m2") {
		t.Error("unrelated id suppressed")
	}
}

func TestDedupForgetsAfterWindow(t *testing.T) {
	clk := newFakeClock()
	d := newDedupWindow(60*time.Second, clk.now)

	d.shouldProcess("m1")
	clk.advance(59 * time.Second)
	if d.shouldProcess("m1") {
		t.Fatal("id forgotten before the window elapsed")
	}
	clk.advance(2 * time.Second)
	if !d.shouldProcess("m1") {
		t.Error("id still suppressed after the window elapsed")
	}
}

func TestDedupSweepEvictsExpired(t *testing.T) {
	clk := newFakeClock()
	d := newDedupWindow(60*time.Second, clk.now)

	for i := 0; i < sweepThreshold; i++ {
		d.shouldProcess(fmt.Sprintf("old-%d", i))
	}
	clk.advance(61 * time.Second)
	// next record triggers a full sweep of the expired set
	d.shouldProcess("fresh")

	d.mu.Lock()
	n := len(d.seen)
	d.mu.Unlock()
	if n != 1 {
		t.Errorf("seen set size after sweep = %d, want 1", n)
	}
}

func TestDedupReset(t *testing.T) {
	d := newDedupWindow(60*time.Second, nil)
	d.shouldProcess("m1")
	d.reset()
	if !d.shouldProcess("m1") {
		t.Error("id survived reset")
	}
}
