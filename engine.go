// Package helpline implements the client-side synchronization engine for a
// two-party support chat (end-user ↔ admin). It keeps a local view of the
// conversation list and the currently joined conversation's messages
// consistent with a server that pushes events over a persistent WebSocket.
//
// Example:
//
//	eng := helpline.New("https://support.example.com", token,
//		helpline.WithLogger(log))
//	eng.OnChange(render)
//	eng.SetAuthenticated(true)
//	defer eng.Close()
//
//	eng.JoinConversation(ctx, convID)
//	eng.SendMessage(ctx, convID, "hello")
package helpline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ============================================================================
// Configuration
// ============================================================================

const (
	// DefaultRequestTimeout bounds every awaited request/response pair.
	DefaultRequestTimeout = 5 * time.Second
	// DefaultDedupWindow is how long a message id is remembered for
	// duplicate suppression.
	DefaultDedupWindow = 60 * time.Second
	// DefaultRefreshDebounce delays the full conversation-list refresh
	// triggered by a message for an unknown conversation.
	DefaultRefreshDebounce = 300 * time.Millisecond
	// DefaultReconnectAttempts bounds automatic reconnection.
	DefaultReconnectAttempts = 5
	// DefaultReconnectDelay is the fixed inter-attempt delay.
	DefaultReconnectDelay = 2 * time.Second

	defaultPageLimit = 20
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithDialer replaces the transport dialer. Tests use a scripted fake.
func WithDialer(d Dialer) Option {
	return func(e *Engine) { e.dial = d }
}

// WithRequestTimeout sets the per-request response timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) { e.requestTimeout = d }
}

// WithDedupWindow sets the duplicate-suppression retention window.
func WithDedupWindow(d time.Duration) Option {
	return func(e *Engine) { e.dedupWin = d }
}

// WithRefreshDebounce sets the unknown-conversation refresh debounce.
func WithRefreshDebounce(d time.Duration) Option {
	return func(e *Engine) { e.refreshDelay = d }
}

// WithReconnect sets the bounded automatic reconnection policy.
func WithReconnect(attempts int, delay time.Duration) Option {
	return func(e *Engine) {
		e.maxReconnects = attempts
		e.reconnectDelay = delay
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// ============================================================================
// Engine
// ============================================================================

// Engine owns all mutable session state: the single transport, the dedup set,
// the stores, and the pending-call table. Two Engines in one process never
// share state.
type Engine struct {
	url   string
	token string

	log            zerolog.Logger
	dial           Dialer
	requestTimeout time.Duration
	dedupWin       time.Duration
	refreshDelay   time.Duration
	maxReconnects  int
	reconnectDelay time.Duration
	now            func() time.Time

	convs *conversationStore
	msgs  *messageStore
	dedup *dedupWindow
	calls *correlator

	mu           sync.Mutex
	state        ConnState
	lastErr      error
	transport    Transport
	gen          int // transport generation; bumped on every (re)connect and teardown
	cancelRead   context.CancelFunc
	authed       bool
	chatVisible  bool
	joinedID     string
	joinVer      int
	loading      bool
	closed       bool
	refreshTimer *time.Timer
	changeFn     func()
}

// New creates an Engine for the given chat endpoint. No I/O happens until
// SetAuthenticated(true).
func New(url, token string, opts ...Option) *Engine {
	e := &Engine{
		url:            strings.TrimRight(url, "/"),
		token:          token,
		log:            zerolog.Nop(),
		dial:           DialWebSocket,
		requestTimeout: DefaultRequestTimeout,
		dedupWin:       DefaultDedupWindow,
		refreshDelay:   DefaultRefreshDebounce,
		maxReconnects:  DefaultReconnectAttempts,
		reconnectDelay: DefaultReconnectDelay,
		now:            time.Now,
		convs:          newConversationStore(),
		msgs:           newMessageStore(),
		calls:          newCorrelator(),
		state:          StateDisconnected,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dedup = newDedupWindow(e.dedupWin, e.now)
	return e
}

// OnChange registers a callback invoked after any store or state mutation.
// Intended for the UI layer to re-render from snapshots.
func (e *Engine) OnChange(fn func()) {
	e.mu.Lock()
	e.changeFn = fn
	e.mu.Unlock()
}

func (e *Engine) notifyChange() {
	e.mu.Lock()
	fn := e.changeFn
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SetAuthenticated drives the connection from the external auth signal.
// This is the only code path that connects or disconnects automatically.
func (e *Engine) SetAuthenticated(authed bool) {
	e.mu.Lock()
	if e.closed || e.authed == authed {
		e.mu.Unlock()
		return
	}
	e.authed = authed
	e.mu.Unlock()

	if authed {
		go e.connectLoop()
	} else {
		e.disconnect()
	}
}

// SetChatVisible records whether the chat surface is currently visible to the
// user. Feeds the unread policy and the auto-read rule.
func (e *Engine) SetChatVisible(visible bool) {
	e.mu.Lock()
	e.chatVisible = visible
	e.mu.Unlock()
}

// Close tears the engine down for good. Safe to call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.authed = false
	e.mu.Unlock()

	e.disconnect()
	e.dedup.reset()
}

// ============================================================================
// Snapshots
// ============================================================================

// Conversations returns a copy of the conversation list in store order.
func (e *Engine) Conversations() []Conversation {
	return e.convs.list()
}

// Messages returns a copy of the joined conversation's message list in
// arrival order.
func (e *Engine) Messages() []Message {
	return e.msgs.list()
}

// JoinedConversation returns the id of the currently joined conversation, or
// "" when none is joined.
func (e *Engine) JoinedConversation() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.joinedID
}

// Loading reports whether a history fetch for the joined conversation is in
// flight.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// ============================================================================
// Operations
// ============================================================================

// call emits a request event and waits for the first matching response event,
// a server error event, a timeout, or ctx cancellation. One-shot listeners
// are removed on every exit path.
func (e *Engine) call(ctx context.Context, out string, payload any, in ...string) (Envelope, error) {
	e.mu.Lock()
	t := e.transport
	connected := e.state == StateConnected
	e.mu.Unlock()
	if !connected || t == nil {
		return Envelope{}, &ConnectionError{Reason: "transport is not connected"}
	}

	p := e.calls.register(out, in...)
	if err := t.Emit(ctx, out, payload); err != nil {
		e.calls.remove(p)
		return Envelope{}, &ConnectionError{Reason: err.Error()}
	}

	timer := time.NewTimer(e.requestTimeout)
	defer timer.Stop()
	select {
	case res := <-p.ch:
		return res.env, res.err
	case <-timer.C:
		e.calls.remove(p)
		return Envelope{}, &TimeoutError{Event: out}
	case <-ctx.Done():
		e.calls.remove(p)
		return Envelope{}, ctx.Err()
	}
}

// CreateConversation starts a new support thread, optionally with an opening
// message.
func (e *Engine) CreateConversation(ctx context.Context, content string) (Conversation, error) {
	env, err := e.call(ctx, EventConversationCreate,
		CreateConversationRequest{Content: content}, EventConversationCreated)
	if err != nil {
		return Conversation{}, err
	}
	var p ConversationCreatedPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return Conversation{}, &ServerError{Message: "malformed conversation:created payload"}
	}
	c, ok := e.convs.get(p.ConversationID)
	if !ok {
		// routing should have upserted it; fall back to the ack fields
		now := e.now()
		c = Conversation{
			ID:          p.ConversationID,
			UserID:      p.UserID,
			UnreadCount: p.UnreadCount,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		e.convs.upsert(c)
		e.notifyChange()
	}
	return c, nil
}

// RefreshConversations fetches a page of the conversation list. The store is
// replaced wholesale when the page arrives; on timeout prior data stays stale
// rather than failing the caller.
func (e *Engine) RefreshConversations(ctx context.Context, page, limit int) error {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	_, err := e.call(ctx, EventConversationsList,
		ListConversationsRequest{Page: page, Limit: limit}, EventConversationsPage)
	var te *TimeoutError
	if errors.As(err, &te) {
		e.log.Warn().Msg("conversation list refresh timed out, keeping stale data")
		return nil
	}
	return err
}

// JoinConversation makes id the single joined conversation: the message list
// is cleared, history is requested, and the loading flag is guaranteed to
// clear within the request timeout even if the server never responds.
func (e *Engine) JoinConversation(ctx context.Context, id string) error {
	if id == "" {
		return &ValidationError{Field: "conversation_id", Reason: "must not be empty"}
	}
	e.mu.Lock()
	if e.state != StateConnected {
		e.mu.Unlock()
		return &ConnectionError{Reason: "transport is not connected"}
	}
	e.joinedID = id
	e.joinVer++
	e.loading = true
	e.mu.Unlock()
	e.msgs.reset(id)
	e.notifyChange()

	_, err := e.call(ctx, EventConversationJoin,
		JoinConversationRequest{ConversationID: id}, EventMessagesPage)
	var te *TimeoutError
	if errors.As(err, &te) {
		e.clearLoading(id)
		e.log.Warn().Str("conversation_id", id).Msg("join timed out, loading cleared")
		return nil
	}
	if err != nil {
		e.clearLoading(id)
		return err
	}
	return nil
}

func (e *Engine) clearLoading(convID string) {
	e.mu.Lock()
	if e.joinedID == convID {
		e.loading = false
	}
	e.mu.Unlock()
	e.notifyChange()
}

// SendMessage sends a message to a conversation. Empty content is rejected
// before any emission. When the conversation is joined, an optimistic local
// entry is shown until the server acknowledges via message:sent.
func (e *Engine) SendMessage(ctx context.Context, conversationID, content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if conversationID == "" {
		return Message{}, &ValidationError{Field: "conversation_id", Reason: "must not be empty"}
	}

	localID := "local-" + uuid.NewString()
	optimistic := false
	if e.msgs.conversationID() == conversationID {
		now := e.now()
		optimistic = e.msgs.append(Message{
			ID:             localID,
			ConversationID: conversationID,
			SenderRole:     RoleUser,
			Content:        content,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if optimistic {
			e.notifyChange()
		}
	}

	env, err := e.call(ctx, EventMessageSend,
		SendMessageRequest{ConversationID: conversationID, Content: content}, EventMessageSent)
	if optimistic {
		// the confirmed copy (message:sent) was appended by event routing
		e.msgs.drop(localID)
		e.notifyChange()
	}
	if err != nil {
		return Message{}, err
	}
	var p MessageEvent
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return Message{}, &ServerError{Message: "malformed message:sent payload"}
	}
	return p.Message, nil
}

// MarkRead issues a mark-as-read request for a single message.
func (e *Engine) MarkRead(ctx context.Context, conversationID, messageID string) error {
	_, err := e.call(ctx, EventReadMark, MarkReadRequest{
		ConversationID: conversationID,
		MessageID:      messageID,
	}, EventReadMarkedOne)
	return err
}

// MarkAllRead issues a mark-as-read request for a whole conversation. The
// server's reconciliation event resets the local counters.
func (e *Engine) MarkAllRead(ctx context.Context, conversationID string) error {
	_, err := e.call(ctx, EventReadMark, MarkReadRequest{
		ConversationID: conversationID,
		MarkAll:        true,
	}, EventReadMarkedAll)
	return err
}

// ============================================================================
// Inbound event routing
// ============================================================================

// handleEvent processes one inbound event: state mutations first, then
// pending-call resolution, so an awaiting caller observes updated stores.
func (e *Engine) handleEvent(env Envelope, gen int) {
	e.mu.Lock()
	stale := gen != e.gen || e.closed
	e.mu.Unlock()
	if stale {
		return
	}

	if env.Event == EventError {
		var p ErrorPayload
		_ = json.Unmarshal(env.Data, &p)
		if n := e.calls.fail(&ServerError{Message: p.Message}); n == 0 {
			e.log.Warn().Str("message", p.Message).Msg("unsolicited server error")
		}
		return
	}

	e.applyEvent(env)
	e.calls.resolve(env)
}

func (e *Engine) applyEvent(env Envelope) {
	switch env.Event {
	case EventMessageNew, EventMessageSent:
		var p MessageEvent
		if err := json.Unmarshal(env.Data, &p); err != nil {
			e.log.Warn().Str("event", env.Event).Err(err).Msg("malformed message event")
			return
		}
		e.handleMessage(p)

	case EventConversationsPage:
		var p ConversationsPagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			e.log.Warn().Err(err).Msg("malformed conversations:page")
			return
		}
		e.convs.replaceAll(p.Conversations)
		e.notifyChange()

	case EventMessagesPage:
		var p MessagesPagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			e.log.Warn().Err(err).Msg("malformed messages:page")
			return
		}
		e.msgs.fill(p.ConversationID, p.Messages)
		e.clearLoading(p.ConversationID)

	case EventConversationCreated:
		var p ConversationCreatedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			e.log.Warn().Err(err).Msg("malformed conversation:created")
			return
		}
		if !e.convs.has(p.ConversationID) {
			now := e.now()
			e.convs.upsert(Conversation{
				ID:          p.ConversationID,
				UserID:      p.UserID,
				UnreadCount: p.UnreadCount,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			e.notifyChange()
		}

	case EventReadMarkedAll:
		var p ReadMarkedAllPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			e.log.Warn().Err(err).Msg("malformed read:marked:all")
			return
		}
		// server state always wins on reconciliation
		if e.convs.reconcile(p.ConversationID, p.UnreadCount, p.UserUnreadCount) {
			e.notifyChange()
		}

	case EventReadMarkedOne:
		// refresh the affected conversation's messages; the messages:page
		// response refills the store
		e.refreshJoinedMessages()

	case EventJoined:
		var p JoinedPayload
		_ = json.Unmarshal(env.Data, &p)
		e.log.Debug().Str("conversation_id", p.ConversationID).Msg("joined conversation channel")
	}
}

// handleMessage routes message:new / message:sent through the deduplicator,
// the unread policy, and the auto-read rule. The joined-conversation identity
// and visibility are snapshotted here, at dispatch time, and passed down —
// never read from state captured earlier.
func (e *Engine) handleMessage(p MessageEvent) {
	m := p.Message
	if m.ConversationID == "" {
		m.ConversationID = p.ConversationID
	}
	if m.ID == "" {
		return
	}
	if !e.dedup.shouldProcess(m.ID) {
		e.log.Debug().Str("message_id", m.ID).Msg("duplicate delivery suppressed")
		return
	}

	e.mu.Lock()
	joined := e.joinedID
	visible := e.chatVisible
	e.mu.Unlock()
	isCurrent := joined != "" && joined == m.ConversationID

	if !e.convs.has(m.ConversationID) {
		// never fabricate a partial summary from a single event; fetch the
		// authoritative list instead
		e.log.Debug().Str("conversation_id", m.ConversationID).
			Msg("message for unknown conversation, scheduling list refresh")
		e.scheduleRefresh()
	} else {
		last := m
		if shouldIncrementUnread(m.SenderRole, visible, isCurrent) {
			e.convs.bumpUserUnread(m.ConversationID, &last, e.now())
		} else {
			e.convs.touch(m.ConversationID, &last, e.now())
		}
	}

	if isCurrent {
		e.msgs.append(m)
		// visibility implies consumption: the complement of the policy's
		// no-increment branch
		if visible && m.SenderRole == RoleAdmin && !m.IsRead {
			go e.autoMarkRead(m.ConversationID, m.ID)
		}
	}
	e.notifyChange()
}

func (e *Engine) autoMarkRead(conversationID, messageID string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.requestTimeout+time.Second)
	defer cancel()
	if err := e.MarkRead(ctx, conversationID, messageID); err != nil {
		e.log.Warn().Str("message_id", messageID).Err(err).Msg("auto mark-read failed")
	}
}

// scheduleRefresh debounces a full conversation-list refresh.
func (e *Engine) scheduleRefresh() {
	e.mu.Lock()
	if e.refreshTimer != nil || e.closed {
		e.mu.Unlock()
		return
	}
	e.refreshTimer = time.AfterFunc(e.refreshDelay, func() {
		e.mu.Lock()
		e.refreshTimer = nil
		e.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), e.requestTimeout+time.Second)
		defer cancel()
		if err := e.RefreshConversations(ctx, 1, defaultPageLimit); err != nil {
			e.log.Warn().Err(err).Msg("deferred conversation refresh failed")
		}
	})
	e.mu.Unlock()
}

// refreshJoinedMessages re-requests history for the joined conversation.
// Fire-and-forget: the messages:page response is applied by event routing.
func (e *Engine) refreshJoinedMessages() {
	e.mu.Lock()
	joined := e.joinedID
	t := e.transport
	connected := e.state == StateConnected
	e.mu.Unlock()
	if joined == "" || !connected || t == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.requestTimeout)
	defer cancel()
	if err := t.Emit(ctx, EventMessagesList, ListMessagesRequest{
		ConversationID: joined,
		Page:           1,
		Limit:          defaultPageLimit,
	}); err != nil {
		e.log.Warn().Err(err).Msg("message refresh emit failed")
	}
}
