package helpline

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCorrelatorResolvesMatchingCall(t *testing.T) {
	c := newCorrelator()
	p := c.register(EventConversationsList, EventConversationsPage)

	if c.resolve(Envelope{Event: EventMessagesPage}) {
		t.Fatal("resolved an event no listener accepts")
	}
	env := Envelope{Event: EventConversationsPage, Data: json.RawMessage(`{}`)}
	if !c.resolve(env) {
		t.Fatal("matching event not consumed")
	}
	res := <-p.ch
	if res.err != nil || res.env.Event != EventConversationsPage {
		t.Fatalf("unexpected result: %+v", res)
	}

	// the listener is one-shot: a second event must not reach it
	if c.resolve(env) {
		t.Error("settled listener resolved again")
	}
}

func TestCorrelatorOldestListenerWins(t *testing.T) {
	c := newCorrelator()
	first := c.register(EventMessageSend, EventMessageSent)
	second := c.register(EventMessageSend, EventMessageSent)

	c.resolve(Envelope{Event: EventMessageSent})
	select {
	case <-first.ch:
	default:
		t.Fatal("first registered listener did not receive the event")
	}
	select {
	case <-second.ch:
		t.Fatal("second listener received a response meant for the first")
	default:
	}
}

func TestCorrelatorRemoveDetachesListener(t *testing.T) {
	c := newCorrelator()
	p := c.register(EventConversationJoin, EventMessagesPage)
	c.remove(p)

	// a late response must not resolve a later, unrelated call through a
	// stale listener
	if c.resolve(Envelope{Event: EventMessagesPage}) {
		t.Fatal("removed listener consumed an event")
	}
	c.remove(p) // idempotent
}

func TestCorrelatorFailSettlesAllPending(t *testing.T) {
	c := newCorrelator()
	a := c.register(EventMessageSend, EventMessageSent)
	b := c.register(EventReadMark, EventReadMarkedAll)

	n := c.fail(&ServerError{Message: "boom"})
	if n != 2 {
		t.Fatalf("fail settled %d calls, want 2", n)
	}
	for _, p := range []*pendingCall{a, b} {
		res := <-p.ch
		var se *ServerError
		if !errors.As(res.err, &se) || se.Message != "boom" {
			t.Fatalf("unexpected error: %v", res.err)
		}
	}
	if c.fail(&ServerError{Message: "again"}) != 0 {
		t.Error("fail found listeners after draining")
	}
}
