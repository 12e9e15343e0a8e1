package helpline

import (
	"sync"
	"time"
)

// ============================================================================
// Data model
// ============================================================================

// SenderRole identifies which side of the conversation authored a message.
type SenderRole string

const (
	RoleUser  SenderRole = "user"
	RoleAdmin SenderRole = "admin"
)

// Message is a single chat message.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderRole     SenderRole `json:"sender_type"`
	SenderID       string     `json:"sender_id"`
	SenderName     string     `json:"sender_name,omitempty"`
	SenderAvatar   string     `json:"sender_avatar,omitempty"`
	Content        string     `json:"content"`
	IsRead         bool       `json:"is_read"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Conversation is a two-party support thread summary.
//
// UnreadCount is the admin-facing counter and is server-owned: the engine
// stores whatever the server sends and never mutates it locally.
// UserUnreadCount is the counter this engine maintains via the unread policy
// and server reconciliation events.
type Conversation struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	UnreadCount     int       `json:"unread_count"`
	UserUnreadCount int       `json:"user_unread_count"`
	LastMessage     *Message  `json:"last_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ============================================================================
// Unread accounting policy
// ============================================================================

// shouldIncrementUnread decides whether an inbound message bumps the
// user-facing unread counter of its conversation.
//
//	sender | chat open | current conv | increment
//	admin  | false     | any          | yes
//	admin  | true      | false        | yes
//	admin  | true      | true         | no  (auto-read instead)
//	user   | any       | any          | no  (own echo)
func shouldIncrementUnread(sender SenderRole, chatOpen, isCurrent bool) bool {
	if sender != RoleAdmin {
		return false
	}
	return !chatOpen || !isCurrent
}

// ============================================================================
// Conversation store
// ============================================================================

// conversationStore keeps conversation summaries in a stable order:
// the server page order, with locally discovered conversations appended.
type conversationStore struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*Conversation
}

func newConversationStore() *conversationStore {
	return &conversationStore{byID: make(map[string]*Conversation)}
}

func (s *conversationStore) has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

func (s *conversationStore) get(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

func (s *conversationStore) list() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// upsert inserts or replaces a full conversation record, preserving its
// position if it already exists.
func (s *conversationStore) upsert(c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.ID]; !ok {
		s.order = append(s.order, c.ID)
	}
	cp := c
	s.byID[c.ID] = &cp
}

// replaceAll installs a full server page, dropping anything not in it.
// Server state wins on refresh.
func (s *conversationStore) replaceAll(convs []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = s.order[:0]
	s.byID = make(map[string]*Conversation, len(convs))
	for i := range convs {
		cp := convs[i]
		if cp.UserUnreadCount < 0 {
			cp.UserUnreadCount = 0
		}
		s.order = append(s.order, cp.ID)
		s.byID[cp.ID] = &cp
	}
}

// bumpUserUnread increments the user-facing counter and refreshes the
// last-message snapshot. Returns false for unknown conversations.
func (s *conversationStore) bumpUserUnread(id string, last *Message, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return false
	}
	c.UserUnreadCount++
	c.LastMessage = last
	c.UpdatedAt = at
	return true
}

// touch refreshes the last-message snapshot without touching counters.
func (s *conversationStore) touch(id string, last *Message, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return false
	}
	c.LastMessage = last
	c.UpdatedAt = at
	return true
}

// reconcile sets both counters to server-supplied values, overriding any
// local increments. Clamped at zero.
func (s *conversationStore) reconcile(id string, unread, userUnread int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return false
	}
	if unread < 0 {
		unread = 0
	}
	if userUnread < 0 {
		userUnread = 0
	}
	c.UnreadCount = unread
	c.UserUnreadCount = userUnread
	return true
}

// ============================================================================
// Message store
// ============================================================================

// messageStore holds the ordered message list of the single joined
// conversation. Order is arrival order.
type messageStore struct {
	mu       sync.RWMutex
	convID   string
	messages []Message
	byID     map[string]struct{}
}

func newMessageStore() *messageStore {
	return &messageStore{byID: make(map[string]struct{})}
}

// reset clears the list and rebinds the store to a conversation.
func (s *messageStore) reset(convID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convID = convID
	s.messages = s.messages[:0]
	s.byID = make(map[string]struct{})
}

func (s *messageStore) conversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.convID
}

// append adds a message unless one with the same id is already present.
// A send acknowledged via message:sent and re-delivered via message:new must
// not produce two entries.
func (s *messageStore) append(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ConversationID != s.convID {
		return false
	}
	if _, dup := s.byID[m.ID]; dup {
		return false
	}
	s.byID[m.ID] = struct{}{}
	s.messages = append(s.messages, m)
	return true
}

// fill installs a fetched history page, then keeps any already-arrived
// messages that the page does not contain.
func (s *messageStore) fill(convID string, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if convID != s.convID {
		return
	}
	existing := s.messages
	s.messages = make([]Message, 0, len(msgs)+len(existing))
	s.byID = make(map[string]struct{}, len(msgs)+len(existing))
	for _, m := range msgs {
		if _, dup := s.byID[m.ID]; dup {
			continue
		}
		s.byID[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
	}
	for _, m := range existing {
		if _, dup := s.byID[m.ID]; dup {
			continue
		}
		s.byID[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
	}
}

// drop removes an optimistic local entry once the confirmed copy arrived.
func (s *messageStore) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func (s *messageStore) list() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *messageStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
