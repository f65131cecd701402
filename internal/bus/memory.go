package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chathub-io/chathub/internal/metrics"
	"github.com/chathub-io/chathub/internal/protocol"
)

// Memory is the in-process bus. Rooms exist while they have subscribers;
// there is zero cross-process visibility.
type Memory struct {
	mu      sync.RWMutex
	rooms   map[string]map[*memorySub]struct{}
	closed  bool
	metrics *metrics.Collector
	logger  zerolog.Logger
}

type memorySub struct {
	bus     *Memory
	room    string
	handler Handler
	once    sync.Once
}

// NewMemory creates an in-process bus. The collector's room gauge follows
// the set of rooms with at least one subscriber.
func NewMemory(m *metrics.Collector, logger zerolog.Logger) *Memory {
	return &Memory{
		rooms:   make(map[string]map[*memorySub]struct{}),
		metrics: m,
		logger:  logger.With().Str("component", "bus").Str("backend", "memory").Logger(),
	}
}

// Subscribe registers a handler for a room, creating the room implicitly.
func (m *Memory) Subscribe(_ context.Context, room string, h Handler) (Subscription, error) {
	if _, err := protocol.ParseRoom(room); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{bus: m, room: room, handler: h}
	set, ok := m.rooms[room]
	if !ok {
		set = make(map[*memorySub]struct{})
		m.rooms[room] = set
	}
	set[sub] = struct{}{}
	m.metrics.SetRooms(len(m.rooms))
	return sub, nil
}

// Publish delivers the envelope to every handler currently registered for
// the room. Each handler runs in its own goroutine; Publish returns once
// all have been invoked. A panicking handler is isolated and logged, never
// propagated to the publisher or its siblings.
func (m *Memory) Publish(_ context.Context, room string, env *protocol.Envelope) error {
	if err := checkPublish(room, env); err != nil {
		return err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*memorySub, 0, len(m.rooms[room]))
	for sub := range m.rooms[room] {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *memorySub) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error().
						Str("room", room).
						Str("envelope_id", env.ID).
						Interface("panic", r).
						Msg("handler panicked")
				}
			}()
			sub.handler(env)
		}(sub)
	}
	wg.Wait()
	return nil
}

// Close drops all subscriptions. Further calls return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.rooms = make(map[string]map[*memorySub]struct{})
	m.metrics.SetRooms(0)
	return nil
}

func (s *memorySub) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		set, ok := s.bus.rooms[s.room]
		if !ok {
			return
		}
		delete(set, s)
		// Rooms are destroyed when their last subscriber leaves.
		if len(set) == 0 {
			delete(s.bus.rooms, s.room)
			s.bus.metrics.SetRooms(len(s.bus.rooms))
		}
	})
}
