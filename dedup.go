package helpline

import (
	"sync"
	"time"
)

// sweepThreshold bounds how large the seen set may grow before a full sweep.
const sweepThreshold = 1024

// dedupWindow guarantees at-most-once processing of a message id within a
// retention window. The server may fan the same message out on the personal
// and the conversation channel, so every inbound message event passes through
// here before any state mutation.
//
// Eviction is lazy: expired entries are dropped when revisited, and the whole
// set is swept once it grows past sweepThreshold. No background goroutine.
type dedupWindow struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	seen   map[string]time.Time
}

func newDedupWindow(window time.Duration, now func() time.Time) *dedupWindow {
	if now == nil {
		now = time.Now
	}
	return &dedupWindow{
		window: window,
		now:    now,
		seen:   make(map[string]time.Time),
	}
}

// shouldProcess reports whether id has not been seen within the window, and
// records it. Check and record are one step under the lock.
func (d *dedupWindow) shouldProcess(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[id]; ok && now.Sub(at) < d.window {
		return false
	}
	if len(d.seen) >= sweepThreshold {
		for k, at := range d.seen {
			if now.Sub(at) >= d.window {
				delete(d.seen, k)
			}
		}
	}
	d.seen[id] = now
	return true
}

// reset forgets all ids. Used on engine shutdown.
func (d *dedupWindow) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]time.Time)
}
