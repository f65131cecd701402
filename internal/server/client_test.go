package server

import (
	"testing"

	"github.com/chathub-io/chathub/internal/access"
	"github.com/chathub-io/chathub/internal/protocol"
)

func TestDeliverAfterTeardownIsDropped(t *testing.T) {
	s := newTestServer(t, access.StaticMembership{"c1": {"u1"}}, nil)
	c := newTestClient(s, "u1", "user")
	s.handleCommand(c, []byte(`{"op":"subscribe","rooms":["chat:c1"]}`))

	c.teardown()

	// The bus may finish dispatching an envelope after Unsubscribe has
	// returned; such a delivery must be dropped, not panic on the closed
	// send channel.
	env, err := protocol.New(protocol.EventChatUpdated,
		map[string]string{"chatId": "c1"},
		protocol.WithRoom("chat:c1"))
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	c.deliver(env)

	if _, ok := <-c.send; ok {
		t.Fatal("envelope queued after teardown")
	}
}

func TestReconnectingUserIsCounted(t *testing.T) {
	s := newTestServer(t, access.StaticMembership{}, nil)

	c1 := newTestClient(s, "u1", "user")
	s.register(c1)
	s.unregister(c1)

	c2 := newTestClient(s, "u1", "user")
	s.register(c2)
	defer s.unregister(c2)

	snap := s.hub.Metrics().Snapshot()
	if snap.ConnectionsTotal != 2 {
		t.Errorf("connections total = %d, want 2", snap.ConnectionsTotal)
	}
	if snap.ConnectionsReconnected != 1 {
		t.Errorf("reconnected = %d, want 1", snap.ConnectionsReconnected)
	}
}
