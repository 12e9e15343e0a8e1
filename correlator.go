package helpline

import "sync"

// ============================================================================
// Request/response correlation
// ============================================================================

// The transport has no native request/reply semantics: a request is a
// fire-and-forget emission and the reply is just another named event. Each
// in-flight operation registers a one-shot listener for its expected success
// events; a generic error event settles every outstanding listener, and the
// losing side of the race (response vs timeout vs disconnect) always removes
// the listener so a late event cannot resolve a later, unrelated call.

type callResult struct {
	env Envelope
	err error
}

type pendingCall struct {
	out    string
	accept map[string]struct{}
	ch     chan callResult
}

func (p *pendingCall) accepts(event string) bool {
	_, ok := p.accept[event]
	return ok
}

type correlator struct {
	mu      sync.Mutex
	pending []*pendingCall
}

func newCorrelator() *correlator {
	return &correlator{}
}

// register adds a one-shot listener for the given response events.
func (c *correlator) register(out string, events ...string) *pendingCall {
	p := &pendingCall{
		out:    out,
		accept: make(map[string]struct{}, len(events)),
		ch:     make(chan callResult, 1),
	}
	for _, ev := range events {
		p.accept[ev] = struct{}{}
	}
	c.mu.Lock()
	c.pending = append(c.pending, p)
	c.mu.Unlock()
	return p
}

// remove detaches a listener that lost its race. No-op if the listener
// already settled.
func (c *correlator) remove(p *pendingCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.pending {
		if q == p {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// resolve settles the oldest listener waiting for env.Event. Reports whether
// any listener consumed the event; the engine still routes the event to the
// stores either way.
func (c *correlator) resolve(env Envelope) bool {
	c.mu.Lock()
	var p *pendingCall
	for i, q := range c.pending {
		if q.accepts(env.Event) {
			p = q
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	if p == nil {
		return false
	}
	p.ch <- callResult{env: env}
	return true
}

// fail settles every outstanding listener with err. A generic server error
// event carries no correlation id, so all in-flight calls observe it — the
// same behavior as racing per-call error listeners on one shared channel.
// Also used by disconnect so a late response after reconnection cannot
// resolve a stale call.
func (c *correlator) fail(err error) int {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, p := range pending {
		p.ch <- callResult{err: err}
	}
	return len(pending)
}
