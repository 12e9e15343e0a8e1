package helpline

import "encoding/json"

// ============================================================================
// Wire format
// ============================================================================

// Envelope is the wire format for every event in both directions: an event
// name plus a JSON payload. The transport carries no request ids; correlation
// is done client-side by event name (see correlator.go).
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client → server event names.
const (
	EventSessionJoin        = "session:join"
	EventConversationCreate = "conversation:create"
	EventConversationsList  = "conversations:list"
	EventConversationJoin   = "conversation:join"
	EventMessageSend        = "message:send"
	EventMessagesList       = "messages:list"
	EventReadMark           = "read:mark"
)

// Server → client event names.
const (
	EventError               = "error"
	EventMessageNew          = "message:new"
	EventMessageSent         = "message:sent"
	EventConversationCreated = "conversation:created"
	EventReadMarkedOne       = "read:marked:one"
	EventReadMarkedAll       = "read:marked:all"
	EventJoined              = "joined"
	EventMessagesPage        = "messages:page"
	EventConversationsPage   = "conversations:page"
)

// ============================================================================
// Request payloads
// ============================================================================

// CreateConversationRequest is the payload for conversation:create.
type CreateConversationRequest struct {
	Content string `json:"content,omitempty"`
}

// ListConversationsRequest is the payload for conversations:list.
type ListConversationsRequest struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// JoinConversationRequest is the payload for conversation:join.
type JoinConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

// SendMessageRequest is the payload for message:send.
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// ListMessagesRequest is the payload for messages:list.
type ListMessagesRequest struct {
	ConversationID string `json:"conversation_id"`
	Page           int    `json:"page"`
	Limit          int    `json:"limit"`
}

// MarkReadRequest is the payload for read:mark. MessageID is empty when
// MarkAll is set.
type MarkReadRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
	MarkAll        bool   `json:"mark_all"`
}

// ============================================================================
// Push / response payloads
// ============================================================================

// ErrorPayload is the payload of the generic error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// MessageEvent is the payload of message:new and message:sent.
type MessageEvent struct {
	ConversationID string  `json:"conversation_id"`
	Message        Message `json:"message"`
}

// ConversationCreatedPayload is the payload of conversation:created.
type ConversationCreatedPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	UnreadCount    int    `json:"unread_count"`
}

// ReadMarkedAllPayload is the payload of read:marked:all. The counters are
// server-authoritative and overwrite any local accounting.
type ReadMarkedAllPayload struct {
	ConversationID  string `json:"conversation_id"`
	MarkedCount     int    `json:"marked_count"`
	UnreadCount     int    `json:"unread_count"`
	UserUnreadCount int    `json:"user_unread_count"`
}

// ReadMarkedOnePayload is the payload of read:marked:one.
type ReadMarkedOnePayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
}

// JoinedPayload is the payload of joined.
type JoinedPayload struct {
	ConversationID string `json:"conversation_id"`
}

// PageMeta carries pagination info on page responses.
type PageMeta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// MessagesPagePayload is the payload of messages:page.
type MessagesPagePayload struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	Meta           PageMeta  `json:"meta"`
}

// ConversationsPagePayload is the payload of conversations:page.
type ConversationsPagePayload struct {
	Conversations []Conversation `json:"conversations"`
	Meta          PageMeta       `json:"meta"`
}
