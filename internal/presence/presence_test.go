package presence

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestManager(t *testing.T) (*Memory, *time.Time) {
	t.Helper()
	m := NewMemory(DefaultTimeout, zerolog.Nop())
	t.Cleanup(func() { m.Close() })

	now := time.Now()
	m.now = func() time.Time { return now }
	return m, &now
}

func TestStartTypingAndList(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	m.StartTyping(ctx, "c1", "alice")
	m.StartTyping(ctx, "c1", "bob")
	m.StartTyping(ctx, "c2", "carol")

	active, _ := m.ListActive(ctx, "c1")
	if len(active) != 2 {
		t.Fatalf("active = %v, want 2 users", active)
	}
	if typing, _ := m.IsTyping(ctx, "c1", "alice"); !typing {
		t.Error("alice should be typing")
	}
	if typing, _ := m.IsTyping(ctx, "c1", "carol"); typing {
		t.Error("carol is in another chat")
	}
}

func TestStopTyping(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	m.StartTyping(ctx, "c1", "alice")
	m.StopTyping(ctx, "c1", "alice")

	if typing, _ := m.IsTyping(ctx, "c1", "alice"); typing {
		t.Error("alice stopped typing")
	}
}

func TestEntryExpiresWithoutSweep(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()

	m.StartTyping(ctx, "c1", "alice")
	*now = now.Add(DefaultTimeout - time.Millisecond)
	if typing, _ := m.IsTyping(ctx, "c1", "alice"); !typing {
		t.Error("entry expired early")
	}

	*now = now.Add(2 * time.Millisecond)
	if typing, _ := m.IsTyping(ctx, "c1", "alice"); typing {
		t.Error("stale entry still reported typing")
	}
	if active, _ := m.ListActive(ctx, "c1"); len(active) != 0 {
		t.Errorf("stale entry in ListActive: %v", active)
	}
}

func TestTouchRefreshes(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()

	m.StartTyping(ctx, "c1", "alice")
	*now = now.Add(4 * time.Second)
	m.Touch(ctx, "c1", "alice")
	*now = now.Add(4 * time.Second)

	// 8s since start, but only 4s since the touch.
	if typing, _ := m.IsTyping(ctx, "c1", "alice"); !typing {
		t.Error("touch did not refresh the entry")
	}
}

func TestSweepDeletesStaleEntries(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()

	m.StartTyping(ctx, "c1", "alice")
	*now = now.Add(DefaultTimeout + time.Second)
	m.sweep()

	m.mu.Lock()
	n := len(m.entries)
	m.mu.Unlock()
	if n != 0 {
		t.Errorf("sweep left %d entries", n)
	}
	_ = ctx
}

func TestDisabledManagerIsNoOp(t *testing.T) {
	var m Manager = Disabled{}
	ctx := context.Background()

	if err := m.StartTyping(ctx, "c1", "alice"); err != nil {
		t.Fatalf("StartTyping: %v", err)
	}
	if typing, _ := m.IsTyping(ctx, "c1", "alice"); typing {
		t.Error("disabled manager reported typing")
	}
	if active, _ := m.ListActive(ctx, "c1"); len(active) != 0 {
		t.Error("disabled manager returned entries")
	}
}
