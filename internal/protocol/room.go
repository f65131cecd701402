package protocol

import (
	"fmt"
	"regexp"
	"strings"
)

// RoomKind distinguishes the two admissible room namespaces.
type RoomKind string

const (
	RoomChat RoomKind = "chat"
	RoomUser RoomKind = "user"
)

// Room is a parsed, validated room name.
type Room struct {
	Kind RoomKind
	ID   string
}

// idPattern is the allowed room id alphabet. Ids come from untrusted
// input and end up in store keys and pub/sub channel names, so anything
// outside it is rejected.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ParseRoom validates a raw room string of the form "chat:<id>" or
// "user:<id>".
func ParseRoom(raw string) (Room, error) {
	kind, id, ok := strings.Cut(raw, ":")
	if !ok {
		return Room{}, fmt.Errorf("%w: %q", ErrBadRoom, raw)
	}
	if kind != string(RoomChat) && kind != string(RoomUser) {
		return Room{}, fmt.Errorf("%w: unknown kind %q", ErrBadRoom, kind)
	}
	if !idPattern.MatchString(id) {
		return Room{}, fmt.Errorf("%w: invalid id in %q", ErrBadRoom, raw)
	}
	return Room{Kind: RoomKind(kind), ID: id}, nil
}

// String renders the canonical room name.
func (r Room) String() string {
	return string(r.Kind) + ":" + r.ID
}

// ChatRoom returns the room name for a chat.
func ChatRoom(chatID string) string {
	return string(RoomChat) + ":" + chatID
}

// UserRoom returns the personal room name for a user.
func UserRoom(userID string) string {
	return string(RoomUser) + ":" + userID
}
