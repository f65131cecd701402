package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chathub-io/chathub/internal/metrics"
	"github.com/chathub-io/chathub/internal/protocol"
)

// channelPrefix namespaces hub traffic inside the shared Redis instance.
const channelPrefix = "chathub:room:"

// Redis is the cross-process bus. One subscriber connection per process
// receives every subscribed channel; envelopes are re-validated on receipt
// and fanned out to the process-local handler set, which is how multiple
// server processes share one logical room.
type Redis struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	metrics *metrics.Collector
	logger  zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]map[*redisSub]struct{} // channel -> local subs
	closed   bool

	cancel context.CancelFunc
	done   chan struct{}
}

type redisSub struct {
	bus     *Redis
	channel string
	handler Handler
	once    sync.Once
}

// NewRedis creates a Redis-backed bus and starts its receive loop. The
// collector's room gauge follows the locally subscribed channel set.
func NewRedis(client *redis.Client, m *metrics.Collector, logger zerolog.Logger) *Redis {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Redis{
		client:   client,
		pubsub:   client.Subscribe(ctx),
		metrics:  m,
		logger:   logger.With().Str("component", "bus").Str("backend", "redis").Logger(),
		handlers: make(map[string]map[*redisSub]struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go b.receiveLoop(ctx)
	return b
}

func channelFor(room string) string {
	return channelPrefix + room
}

// Publish serializes the envelope and publishes it to the room's channel.
// A store failure surfaces as a hard error so the caller can retry or
// alert; it is never a silent drop.
func (b *Redis) Publish(ctx context.Context, room string, env *protocol.Envelope) error {
	if err := checkPublish(room, env); err != nil {
		return err
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.client.Publish(ctx, channelFor(room), data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", room, err)
	}
	return nil
}

// Subscribe registers a local handler and joins the room's channel on the
// shared subscriber connection if this is the room's first local handler.
func (b *Redis) Subscribe(ctx context.Context, room string, h Handler) (Subscription, error) {
	if _, err := protocol.ParseRoom(room); err != nil {
		return nil, err
	}
	channel := channelFor(room)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	sub := &redisSub{bus: b, channel: channel, handler: h}
	set, ok := b.handlers[channel]
	if !ok {
		set = make(map[*redisSub]struct{})
		b.handlers[channel] = set
	}
	set[sub] = struct{}{}
	first := len(set) == 1
	b.metrics.SetRooms(len(b.handlers))
	b.mu.Unlock()

	if first {
		if err := b.pubsub.Subscribe(ctx, channel); err != nil {
			sub.Unsubscribe()
			return nil, fmt.Errorf("subscribe to %s: %w", room, err)
		}
	}
	return sub, nil
}

// receiveLoop deserializes, re-validates and fans out every message from
// the shared subscriber connection. One bad message is logged and skipped;
// it never kills the loop.
func (b *Redis) receiveLoop(ctx context.Context) {
	defer close(b.done)
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			env, err := protocol.Validate([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn().
					Str("channel", msg.Channel).
					Err(err).
					Msg("dropping invalid envelope from transport")
				continue
			}
			b.dispatch(msg.Channel, env)
		}
	}
}

func (b *Redis) dispatch(channel string, env *protocol.Envelope) {
	b.mu.RLock()
	subs := make([]*redisSub, 0, len(b.handlers[channel]))
	for sub := range b.handlers[channel] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *redisSub) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error().
						Str("channel", channel).
						Str("envelope_id", env.ID).
						Interface("panic", r).
						Msg("handler panicked")
				}
			}()
			sub.handler(env)
		}(sub)
	}
	wg.Wait()
}

// Close tears down the subscriber connection and receive loop. The shared
// *redis.Client is owned by the caller and left open.
func (b *Redis) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.handlers = make(map[string]map[*redisSub]struct{})
	b.metrics.SetRooms(0)
	b.mu.Unlock()

	b.cancel()
	err := b.pubsub.Close()
	<-b.done
	return err
}

func (s *redisSub) Unsubscribe() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		set, ok := b.handlers[s.channel]
		if ok {
			delete(set, s)
			if len(set) == 0 {
				delete(b.handlers, s.channel)
				b.metrics.SetRooms(len(b.handlers))
			}
		}
		last := ok && len(set) == 0
		closed := b.closed
		b.mu.Unlock()

		if last && !closed {
			// Best effort: the channel has no local consumers left.
			if err := b.pubsub.Unsubscribe(context.Background(), s.channel); err != nil {
				b.logger.Warn().Str("channel", s.channel).Err(err).Msg("channel unsubscribe failed")
			}
		}
	})
}
