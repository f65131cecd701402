package presence

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const sweepInterval = 5 * time.Second

// Redis is the store-backed manager, shared by every server process. Each
// entry holds the last-activity timestamp (unix ms) and carries a key TTL
// as a backstop: even if the sweep dies, the store expires entries itself.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewRedis creates a store-backed typing manager and starts its sweep.
func NewRedis(client *redis.Client, timeout time.Duration, logger zerolog.Logger) *Redis {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Redis{
		client:  client,
		timeout: timeout,
		logger:  logger.With().Str("component", "presence").Logger(),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

func typingKey(chatID, userID string) string {
	return fmt.Sprintf("chathub:typing:%s:%s", chatID, userID)
}

func typingPattern(chatID string) string {
	return fmt.Sprintf("chathub:typing:%s:*", chatID)
}

func (r *Redis) StartTyping(ctx context.Context, chatID, userID string) error {
	ms := strconv.FormatInt(r.now().UnixMilli(), 10)
	// TTL is double the timeout so reads always decide staleness from the
	// stored timestamp, not from expiry racing the sweep.
	return r.client.Set(ctx, typingKey(chatID, userID), ms, 2*r.timeout).Err()
}

func (r *Redis) StopTyping(ctx context.Context, chatID, userID string) error {
	return r.client.Del(ctx, typingKey(chatID, userID)).Err()
}

func (r *Redis) Touch(ctx context.Context, chatID, userID string) error {
	return r.StartTyping(ctx, chatID, userID)
}

func (r *Redis) ListActive(ctx context.Context, chatID string) ([]string, error) {
	var users []string
	iter := r.client.Scan(ctx, 0, typingPattern(chatID), 100).Iterator()
	prefix := fmt.Sprintf("chathub:typing:%s:", chatID)
	for iter.Next(ctx) {
		k := iter.Val()
		if len(k) <= len(prefix) {
			continue
		}
		fresh, err := r.isFresh(ctx, k)
		if err != nil {
			return nil, err
		}
		if fresh {
			users = append(users, k[len(prefix):])
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan typing entries: %w", err)
	}
	return users, nil
}

func (r *Redis) IsTyping(ctx context.Context, chatID, userID string) (bool, error) {
	return r.isFresh(ctx, typingKey(chatID, userID))
}

// isFresh reads one entry and checks its last-activity timestamp against
// the timeout, filtering stale entries before the sweep reaches them.
func (r *Redis) isFresh(ctx context.Context, k string) (bool, error) {
	val, err := r.client.Get(ctx, k).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read typing entry: %w", err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, nil
	}
	return r.now().UnixMilli()-ms < r.timeout.Milliseconds(), nil
}

func (r *Redis) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Redis) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepInterval)
	defer cancel()

	iter := r.client.Scan(ctx, 0, "chathub:typing:*", 200).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		fresh, err := r.isFresh(ctx, k)
		if err != nil {
			r.logger.Warn().Err(err).Msg("typing sweep read failed")
			return
		}
		if !fresh {
			if err := r.client.Del(ctx, k).Err(); err != nil {
				r.logger.Warn().Str("key", k).Err(err).Msg("typing sweep delete failed")
			}
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn().Err(err).Msg("typing sweep scan failed")
	}
}

func (r *Redis) Close() error {
	r.once.Do(func() { close(r.done) })
	return nil
}
