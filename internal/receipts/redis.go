package receipts

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the store-backed manager. The watermark lives in a sorted set
// per (chat, kind) with member=user and score=seq; ZADD GT makes the
// monotonic rule atomic across processes without application locks.
type Redis struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedis creates a store-backed receipts manager.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, now: time.Now}
}

func receiptKey(kind, chatID string) string {
	return fmt.Sprintf("chathub:receipts:%s:%s", kind, chatID)
}

func receiptTSKey(kind, chatID string) string {
	return fmt.Sprintf("chathub:receipts:ts:%s:%s", kind, chatID)
}

func (r *Redis) record(ctx context.Context, kind, chatID, userID string, seq int64) error {
	changed, err := r.client.ZAddArgs(ctx, receiptKey(kind, chatID), redis.ZAddArgs{
		GT: true,
		Ch: true,
		Members: []redis.Z{{
			Score:  float64(seq),
			Member: userID,
		}},
	}).Result()
	if err != nil {
		return fmt.Errorf("record %s receipt: %w", kind, err)
	}
	if changed > 0 {
		ms := r.now().UnixMilli()
		if err := r.client.HSet(ctx, receiptTSKey(kind, chatID), userID, ms).Err(); err != nil {
			return fmt.Errorf("record %s receipt ts: %w", kind, err)
		}
	}
	return nil
}

func (r *Redis) RecordDelivery(ctx context.Context, chatID, userID string, seq int64) error {
	return r.record(ctx, "delivered", chatID, userID, seq)
}

func (r *Redis) RecordRead(ctx context.Context, chatID, userID string, seq int64) error {
	return r.record(ctx, "read", chatID, userID, seq)
}

func (r *Redis) watermark(ctx context.Context, kind, chatID, userID string) (int64, bool, error) {
	score, err := r.client.ZScore(ctx, receiptKey(kind, chatID), userID).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read %s watermark: %w", kind, err)
	}
	return int64(score), true, nil
}

func (r *Redis) UnreadCount(ctx context.Context, chatID, userID string) (int64, error) {
	delivered, ok, err := r.watermark(ctx, "delivered", chatID, userID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	read, _, err := r.watermark(ctx, "read", chatID, userID)
	if err != nil {
		return 0, err
	}
	unread := delivered - read
	if unread < 0 {
		unread = 0
	}
	return unread, nil
}

func (r *Redis) ReceiptsFor(ctx context.Context, chatID string) (*ChatReceipts, error) {
	out := &ChatReceipts{
		Delivered: make(map[string]Receipt),
		Read:      make(map[string]Receipt),
	}
	for kind, table := range map[string]map[string]Receipt{
		"delivered": out.Delivered,
		"read":      out.Read,
	} {
		members, err := r.client.ZRangeWithScores(ctx, receiptKey(kind, chatID), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("list %s receipts: %w", kind, err)
		}
		if len(members) == 0 {
			continue
		}
		timestamps, err := r.client.HGetAll(ctx, receiptTSKey(kind, chatID)).Result()
		if err != nil {
			return nil, fmt.Errorf("list %s receipt timestamps: %w", kind, err)
		}
		for _, z := range members {
			user, _ := z.Member.(string)
			var ts int64
			fmt.Sscanf(timestamps[user], "%d", &ts)
			table[user] = Receipt{MaxSeq: int64(z.Score), TS: ts}
		}
	}
	return out, nil
}

func (r *Redis) Close() error { return nil }
