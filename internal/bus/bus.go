// Package bus distributes envelopes to room subscribers, either within a
// single process or across processes through Redis pub/sub.
package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chathub-io/chathub/internal/metrics"
	"github.com/chathub-io/chathub/internal/protocol"
)

// Handler receives envelopes published to a subscribed room. Handlers run
// on bus goroutines; delivery is at-least-once and a dispatched delivery
// is not cancellable by unsubscribing.
type Handler func(env *protocol.Envelope)

// Subscription represents one registered handler on one room.
type Subscription interface {
	// Unsubscribe removes the handler. No further deliveries begin after
	// it returns; an in-flight delivery may still complete.
	Unsubscribe()
}

// Bus is the room-keyed publish/subscribe contract. Two implementations
// exist: Memory (single process) and Redis (cross-process).
type Bus interface {
	Publish(ctx context.Context, room string, env *protocol.Envelope) error
	Subscribe(ctx context.Context, room string, h Handler) (Subscription, error)
	Close() error
}

// ErrClosed is returned from operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// New selects a bus implementation by backend name. rdb may be nil for
// the memory backend. The collector tracks the active-room gauge.
func New(backend string, rdb *redis.Client, m *metrics.Collector, logger zerolog.Logger) (Bus, error) {
	switch backend {
	case "memory", "":
		return NewMemory(m, logger), nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis bus requires a redis client")
		}
		return NewRedis(rdb, m, logger), nil
	default:
		return nil, fmt.Errorf("unknown bus backend %q", backend)
	}
}

// checkPublish validates an envelope and its room before it touches any
// transport. Invalid envelopes never reach a handler or the wire.
func checkPublish(room string, env *protocol.Envelope) error {
	if _, err := protocol.ParseRoom(room); err != nil {
		return err
	}
	return protocol.ValidateEnvelope(env)
}
