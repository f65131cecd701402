package access

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisMembership reads chat membership from Redis sets maintained by the
// application that owns chats. Errors propagate so the authorizer can
// fail closed.
type RedisMembership struct {
	client *redis.Client
}

// NewRedisMembership creates a Redis-backed membership provider.
func NewRedisMembership(client *redis.Client) *RedisMembership {
	return &RedisMembership{client: client}
}

func membersKey(chatID string) string {
	return fmt.Sprintf("chathub:members:%s", chatID)
}

func (m *RedisMembership) IsMember(ctx context.Context, userID, chatID string) (bool, error) {
	ok, err := m.client.SIsMember(ctx, membersKey(chatID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("membership lookup for %s: %w", chatID, err)
	}
	return ok, nil
}

// StaticMembership is a fixed in-memory membership table for tests and
// single-instance development.
type StaticMembership map[string][]string // chatID -> userIDs

func (m StaticMembership) IsMember(_ context.Context, userID, chatID string) (bool, error) {
	for _, member := range m[chatID] {
		if member == userID {
			return true, nil
		}
	}
	return false, nil
}
