// Package access authorizes room subscribe/publish against external
// membership data. Lookup failures resolve to denied, never allowed.
package access

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/chathub-io/chathub/internal/protocol"
)

// AdminRole always passes room authorization.
const AdminRole = "admin"

// MembershipProvider answers whether a user belongs to a chat. It is an
// external collaborator; the hub never owns membership data.
type MembershipProvider interface {
	IsMember(ctx context.Context, userID, chatID string) (bool, error)
}

// Authorizer evaluates room access rules.
type Authorizer struct {
	members MembershipProvider
	logger  zerolog.Logger
}

// NewAuthorizer creates an authorizer backed by the given membership
// provider.
func NewAuthorizer(members MembershipProvider, logger zerolog.Logger) *Authorizer {
	return &Authorizer{
		members: members,
		logger:  logger.With().Str("component", "access").Logger(),
	}
}

// CanSubscribe reports whether the user may subscribe to the room.
// Rules in order: admins always may; a user room only for the matching
// user; a chat room only for its members. Any lookup failure is a denial.
func (a *Authorizer) CanSubscribe(ctx context.Context, userID, role, room string) bool {
	return a.allowed(ctx, userID, role, room)
}

// CanPublish reports whether the user may publish into the room. The
// rules are identical to CanSubscribe.
func (a *Authorizer) CanPublish(ctx context.Context, userID, role, room string) bool {
	return a.allowed(ctx, userID, role, room)
}

func (a *Authorizer) allowed(ctx context.Context, userID, role, room string) bool {
	parsed, err := protocol.ParseRoom(room)
	if err != nil {
		return false
	}
	if role == AdminRole {
		return true
	}
	switch parsed.Kind {
	case protocol.RoomUser:
		return parsed.ID == userID
	case protocol.RoomChat:
		if a.members == nil {
			return false
		}
		ok, err := a.members.IsMember(ctx, userID, parsed.ID)
		if err != nil {
			// Fail closed: an unreachable membership store denies access.
			a.logger.Warn().
				Str("user_id", userID).
				Str("room", room).
				Err(err).
				Msg("membership lookup failed, denying")
			return false
		}
		return ok
	}
	return false
}
