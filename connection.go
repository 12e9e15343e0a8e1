package helpline

import (
	"context"
	"time"
)

// ============================================================================
// Connection state machine
// ============================================================================

// ConnState is the tri-state connection status.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// State returns the current connection state.
func (e *Engine) State() ConnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastError returns the most recent connection failure, or nil. Failed
// connection attempts never surface as a return value of the connect path;
// they are observed here.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// ============================================================================
// Reconnector
// ============================================================================

// reconnector tracks bounded retries with a fixed inter-attempt delay.
type reconnector struct {
	maxAttempts int
	delay       time.Duration
	attempt     int
}

func (r *reconnector) shouldRetry() bool {
	return r.attempt < r.maxAttempts
}

func (r *reconnector) wait() {
	r.attempt++
	time.Sleep(r.delay)
}

// ============================================================================
// Connect / disconnect
// ============================================================================

// connectLoop runs one connection attempt plus bounded retries. Driven by the
// auth signal and by transport loss; never by operation callers.
func (e *Engine) connectLoop() {
	r := &reconnector{maxAttempts: e.maxReconnects, delay: e.reconnectDelay}
	for {
		if e.connect() {
			return
		}
		if !e.wantsConnection() || !r.shouldRetry() {
			return
		}
		e.log.Info().Int("attempt", r.attempt+1).Msg("reconnecting")
		r.wait()
		if !e.wantsConnection() {
			return
		}
	}
}

func (e *Engine) wantsConnection() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authed && !e.closed && e.state != StateConnected
}

// connect performs a single check-and-set connection attempt. A no-op when
// already connected or while another attempt is in flight, so two
// near-simultaneous triggers can never create two transports. Any stale
// handle is torn down before dialing.
func (e *Engine) connect() bool {
	e.mu.Lock()
	if e.closed || e.state == StateConnected || e.state == StateConnecting {
		connected := e.state == StateConnected
		e.mu.Unlock()
		return connected
	}
	if e.transport != nil {
		if e.cancelRead != nil {
			e.cancelRead()
			e.cancelRead = nil
		}
		_ = e.transport.Close()
		e.transport = nil
	}
	e.state = StateConnecting
	e.gen++
	gen := e.gen
	e.mu.Unlock()
	e.notifyChange()

	dialCtx, cancel := context.WithTimeout(context.Background(), e.requestTimeout)
	t, err := e.dial(dialCtx, e.url, e.token)
	cancel()

	e.mu.Lock()
	if e.closed || gen != e.gen || !e.authed {
		e.mu.Unlock()
		if err == nil {
			_ = t.Close()
		}
		return false
	}
	if err != nil {
		e.state = StateDisconnected
		e.lastErr = &ConnectionError{Reason: err.Error()}
		e.mu.Unlock()
		e.log.Warn().Err(err).Msg("connection attempt failed")
		e.notifyChange()
		return false
	}
	e.transport = t
	e.state = StateConnected
	e.lastErr = nil
	readCtx, cancelRead := context.WithCancel(context.Background())
	e.cancelRead = cancelRead
	joined := e.joinedID
	e.mu.Unlock()
	e.log.Info().Msg("connected")
	e.notifyChange()

	// attach to the personal notification channel, and to the channel of the
	// conversation this client is rejoining
	if err := t.Emit(readCtx, EventSessionJoin, nil); err != nil {
		e.log.Warn().Err(err).Msg("session join emit failed")
	}
	if joined != "" {
		if err := t.Emit(readCtx, EventConversationJoin,
			JoinConversationRequest{ConversationID: joined}); err != nil {
			e.log.Warn().Err(err).Msg("conversation rejoin emit failed")
		}
	}

	go e.readLoop(readCtx, t, gen)
	return true
}

// disconnect detaches everything: the read loop, the transport, and every
// pending one-shot listener, so a late response after reconnection cannot
// resolve a stale call. Always safe to call, including when never connected.
func (e *Engine) disconnect() {
	e.mu.Lock()
	e.gen++
	if e.cancelRead != nil {
		e.cancelRead()
		e.cancelRead = nil
	}
	t := e.transport
	e.transport = nil
	e.state = StateDisconnected
	e.loading = false
	if e.refreshTimer != nil {
		e.refreshTimer.Stop()
		e.refreshTimer = nil
	}
	e.mu.Unlock()

	e.calls.fail(&ConnectionError{Reason: "disconnected"})
	if t != nil {
		_ = t.Close()
		e.log.Info().Msg("disconnected")
	}
	e.notifyChange()
}

// ============================================================================
// Read loop
// ============================================================================

// readLoop delivers inbound events one at a time, in arrival order. It is
// the single flow of control that mutates stores; gen fences out loops that
// survived a teardown.
func (e *Engine) readLoop(ctx context.Context, t Transport, gen int) {
	for {
		env, err := t.Receive(ctx)
		if err != nil {
			e.mu.Lock()
			if e.closed || gen != e.gen {
				e.mu.Unlock()
				return // intentional teardown
			}
			e.gen++
			e.transport = nil
			e.state = StateDisconnected
			e.loading = false
			authed := e.authed
			e.mu.Unlock()

			e.calls.fail(&ConnectionError{Reason: "connection lost"})
			e.log.Warn().Err(err).Msg("transport disconnected")
			e.notifyChange()

			if authed {
				go e.connectLoop()
			}
			return
		}
		e.handleEvent(env, gen)
	}
}
