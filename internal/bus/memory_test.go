package bus

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/chathub-io/chathub/internal/metrics"
	"github.com/chathub-io/chathub/internal/protocol"
)

func testEnvelope(t *testing.T, room string, seq int64) *protocol.Envelope {
	t.Helper()
	env, err := protocol.New(protocol.EventMessageCreated, map[string]any{
		"chatId": "abc",
		"message": map[string]any{
			"id": "m1", "seq": seq, "kind": "text", "payload": "hi",
			"authorId": "u1", "createdAt": 1700000000000,
		},
	}, protocol.WithRoom(room), protocol.WithSeq(seq))
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return env
}

func TestMemoryPublishDeliversVerbatim(t *testing.T) {
	b := NewMemory(metrics.NewCollector(), zerolog.Nop())
	defer b.Close()

	var got *protocol.Envelope
	_, err := b.Subscribe(context.Background(), "chat:abc", func(env *protocol.Envelope) {
		got = env
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	env := testEnvelope(t, "chat:abc", 5)
	if err := b.Publish(context.Background(), "chat:abc", env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got == nil {
		t.Fatal("handler not invoked")
	}
	if got.Seq != 5 || got.ID != env.ID {
		t.Errorf("delivered envelope mutated: got seq=%d id=%s", got.Seq, got.ID)
	}
}

func TestMemoryPublishInvalidEnvelope(t *testing.T) {
	b := NewMemory(metrics.NewCollector(), zerolog.Nop())
	defer b.Close()

	var calls atomic.Int32
	b.Subscribe(context.Background(), "chat:abc", func(*protocol.Envelope) {
		calls.Add(1)
	})

	env := testEnvelope(t, "chat:abc", 5)
	env.V = 99
	if err := b.Publish(context.Background(), "chat:abc", env); err == nil {
		t.Error("invalid envelope should be rejected")
	}
	if err := b.Publish(context.Background(), "chat:../../x", testEnvelope(t, "chat:abc", 1)); err == nil {
		t.Error("invalid room should be rejected")
	}
	if calls.Load() != 0 {
		t.Error("handler saw an invalid envelope")
	}
}

func TestMemoryPanicIsolation(t *testing.T) {
	b := NewMemory(metrics.NewCollector(), zerolog.Nop())
	defer b.Close()

	var survived atomic.Int32
	b.Subscribe(context.Background(), "chat:abc", func(*protocol.Envelope) {
		panic("handler exploded")
	})
	b.Subscribe(context.Background(), "chat:abc", func(*protocol.Envelope) {
		survived.Add(1)
	})

	if err := b.Publish(context.Background(), "chat:abc", testEnvelope(t, "chat:abc", 1)); err != nil {
		t.Fatalf("publish returned error from panicking handler: %v", err)
	}
	if survived.Load() != 1 {
		t.Error("sibling handler not invoked")
	}
}

func TestMemoryUnsubscribe(t *testing.T) {
	b := NewMemory(metrics.NewCollector(), zerolog.Nop())
	defer b.Close()

	var calls atomic.Int32
	sub, _ := b.Subscribe(context.Background(), "chat:abc", func(*protocol.Envelope) {
		calls.Add(1)
	})

	b.Publish(context.Background(), "chat:abc", testEnvelope(t, "chat:abc", 1))
	sub.Unsubscribe()
	b.Publish(context.Background(), "chat:abc", testEnvelope(t, "chat:abc", 2))

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	// Last subscriber gone: room is destroyed.
	b.mu.RLock()
	_, exists := b.rooms["chat:abc"]
	b.mu.RUnlock()
	if exists {
		t.Error("empty room not removed")
	}
}

func TestRoomsGaugeFollowsSubscribers(t *testing.T) {
	m := metrics.NewCollector()
	b := NewMemory(m, zerolog.Nop())
	defer b.Close()

	nop := func(*protocol.Envelope) {}
	a1, _ := b.Subscribe(context.Background(), "chat:a", nop)
	a2, _ := b.Subscribe(context.Background(), "chat:a", nop)
	bsub, _ := b.Subscribe(context.Background(), "chat:b", nop)

	if got := m.Snapshot().RoomsActive; got != 2 {
		t.Fatalf("rooms = %d, want 2", got)
	}

	// A room survives while it still has a subscriber.
	a1.Unsubscribe()
	if got := m.Snapshot().RoomsActive; got != 2 {
		t.Errorf("rooms after partial unsubscribe = %d, want 2", got)
	}

	a2.Unsubscribe()
	bsub.Unsubscribe()
	if got := m.Snapshot().RoomsActive; got != 0 {
		t.Errorf("rooms after full unsubscribe = %d, want 0", got)
	}
}

func TestMemoryPublishToEmptyRoom(t *testing.T) {
	b := NewMemory(metrics.NewCollector(), zerolog.Nop())
	defer b.Close()
	if err := b.Publish(context.Background(), "chat:nobody", testEnvelope(t, "chat:nobody", 1)); err != nil {
		t.Fatalf("publish to empty room: %v", err)
	}
}

func TestMemoryClosedBus(t *testing.T) {
	b := NewMemory(metrics.NewCollector(), zerolog.Nop())
	b.Close()

	if _, err := b.Subscribe(context.Background(), "chat:abc", func(*protocol.Envelope) {}); err != ErrClosed {
		t.Errorf("subscribe after close: err = %v, want ErrClosed", err)
	}
	if err := b.Publish(context.Background(), "chat:abc", testEnvelope(t, "chat:abc", 1)); err != ErrClosed {
		t.Errorf("publish after close: err = %v, want ErrClosed", err)
	}
}

func TestFactory(t *testing.T) {
	b, err := New("memory", nil, metrics.NewCollector(), zerolog.Nop())
	if err != nil {
		t.Fatalf("memory factory: %v", err)
	}
	b.Close()

	if _, err := New("redis", nil, metrics.NewCollector(), zerolog.Nop()); err == nil {
		t.Error("redis backend without client should fail")
	}
	if _, err := New("carrier-pigeon", nil, metrics.NewCollector(), zerolog.Nop()); err == nil {
		t.Error("unknown backend should fail")
	}
}
