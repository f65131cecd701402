package access

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type failingMembership struct{}

func (failingMembership) IsMember(context.Context, string, string) (bool, error) {
	return true, errors.New("membership store unreachable")
}

func TestUserRoomAccess(t *testing.T) {
	a := NewAuthorizer(StaticMembership{}, zerolog.Nop())
	ctx := context.Background()

	if !a.CanSubscribe(ctx, "u1", "user", "user:u1") {
		t.Error("user denied own room")
	}
	if a.CanSubscribe(ctx, "u1", "user", "user:u2") {
		t.Error("user allowed into someone else's room")
	}
}

func TestChatRoomMembership(t *testing.T) {
	a := NewAuthorizer(StaticMembership{"c1": {"u1", "u2"}}, zerolog.Nop())
	ctx := context.Background()

	if !a.CanSubscribe(ctx, "u1", "user", "chat:c1") {
		t.Error("member denied chat room")
	}
	if a.CanSubscribe(ctx, "u3", "user", "chat:c1") {
		t.Error("non-member allowed into chat room")
	}
	if !a.CanPublish(ctx, "u2", "user", "chat:c1") {
		t.Error("member denied publish")
	}
}

func TestAdminOverride(t *testing.T) {
	a := NewAuthorizer(StaticMembership{}, zerolog.Nop())
	ctx := context.Background()

	for _, room := range []string{"chat:c1", "user:someone-else"} {
		if !a.CanSubscribe(ctx, "admin-1", AdminRole, room) {
			t.Errorf("admin denied %s", room)
		}
		if !a.CanPublish(ctx, "admin-1", AdminRole, room) {
			t.Errorf("admin denied publish to %s", room)
		}
	}
}

func TestFailClosed(t *testing.T) {
	a := NewAuthorizer(failingMembership{}, zerolog.Nop())
	ctx := context.Background()

	if a.CanSubscribe(ctx, "u1", "user", "chat:c1") {
		t.Error("lookup failure must deny, not allow")
	}
	if a.CanPublish(ctx, "u1", "user", "chat:c1") {
		t.Error("lookup failure must deny publish")
	}

	// No provider at all also denies.
	none := NewAuthorizer(nil, zerolog.Nop())
	if none.CanSubscribe(ctx, "u1", "user", "chat:c1") {
		t.Error("missing provider must deny")
	}
}

func TestMalformedRoomDenied(t *testing.T) {
	a := NewAuthorizer(StaticMembership{"c1": {"u1"}}, zerolog.Nop())
	ctx := context.Background()

	for _, room := range []string{"chat:../../x", "lobby", "", "chat:"} {
		if a.CanSubscribe(ctx, "u1", AdminRole, room) {
			t.Errorf("malformed room %q allowed", room)
		}
	}
}
