package helpline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
)

// ============================================================================
// Transport
// ============================================================================

// Transport is a persistent, bidirectional, event-named message channel.
// Authentication is implicit: session credentials ride the connection
// handshake, there is no login event.
type Transport interface {
	// Emit sends one event to the server.
	Emit(ctx context.Context, event string, data any) error
	// Receive blocks until the next event arrives or the connection fails.
	Receive(ctx context.Context) (Envelope, error)
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer opens a Transport. The engine uses DialWebSocket unless an
// alternative is injected with WithDialer (tests use a scripted fake).
type Dialer func(ctx context.Context, rawURL, token string) (Transport, error)

// ============================================================================
// WebSocket transport
// ============================================================================

type wsTransport struct {
	conn *websocket.Conn
}

// DialWebSocket connects to the chat endpoint over WebSocket. http(s) URLs
// are rewritten to ws(s) and the session token is carried on the handshake
// query string.
func DialWebSocket(ctx context.Context, rawURL, token string) (Transport, error) {
	wsURL := strings.Replace(rawURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.TrimRight(wsURL, "/") + "/chat"
	if token != "" {
		wsURL += "?token=" + url.QueryEscape(token)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) Emit(ctx context.Context, event string, data any) error {
	env := Envelope{Event: event}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = b
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return t.conn.Write(ctx, websocket.MessageText, b)
}

func (t *wsTransport) Receive(ctx context.Context) (Envelope, error) {
	for {
		_, b, err := t.conn.Read(ctx)
		if err != nil {
			return Envelope{}, err
		}
		var env Envelope
		if json.Unmarshal(b, &env) != nil || env.Event == "" {
			continue // skip malformed frames
		}
		return env, nil
	}
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}
