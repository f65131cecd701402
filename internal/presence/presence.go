// Package presence tracks per-chat typing indicators with expiry.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout is how long a typing entry stays active without refresh.
const DefaultTimeout = 6 * time.Second

// Manager is the typing-state contract. Implementations: Memory (single
// process), Redis (shared across processes) and Disabled (feature off).
type Manager interface {
	StartTyping(ctx context.Context, chatID, userID string) error
	StopTyping(ctx context.Context, chatID, userID string) error
	Touch(ctx context.Context, chatID, userID string) error
	ListActive(ctx context.Context, chatID string) ([]string, error)
	IsTyping(ctx context.Context, chatID, userID string) (bool, error)
	Close() error
}

// Disabled is the no-op manager used when the typing feature flag is off.
type Disabled struct{}

func (Disabled) StartTyping(context.Context, string, string) error { return nil }
func (Disabled) StopTyping(context.Context, string, string) error { return nil }
func (Disabled) Touch(context.Context, string, string) error { return nil }
func (Disabled) ListActive(context.Context, string) ([]string, error) {
	return nil, nil
}
func (Disabled) IsTyping(context.Context, string, string) (bool, error) { return false, nil }
func (Disabled) Close() error { return nil }

type entry struct {
	startedAt    time.Time
	lastActivity time.Time
}

type key struct {
	chatID string
	userID string
}

// Memory is the in-process manager. A background sweep deletes stale
// entries every second; reads filter staleness regardless of the sweep.
type Memory struct {
	mu      sync.Mutex
	entries map[key]entry
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewMemory creates an in-process typing manager and starts its sweep.
func NewMemory(timeout time.Duration, logger zerolog.Logger) *Memory {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := &Memory{
		entries: make(map[key]entry),
		timeout: timeout,
		logger:  logger.With().Str("component", "presence").Logger(),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Memory) sweep() {
	now := m.now()
	removed := 0
	m.mu.Lock()
	for k, e := range m.entries {
		if now.Sub(e.lastActivity) >= m.timeout {
			delete(m.entries, k)
			removed++
		}
	}
	m.mu.Unlock()
	if removed > 0 {
		m.logger.Debug().Int("removed", removed).Msg("typing entries expired")
	}
}

func (m *Memory) StartTyping(_ context.Context, chatID, userID string) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{chatID, userID}
	if e, ok := m.entries[k]; ok && now.Sub(e.lastActivity) < m.timeout {
		e.lastActivity = now
		m.entries[k] = e
		return nil
	}
	m.entries[k] = entry{startedAt: now, lastActivity: now}
	return nil
}

func (m *Memory) StopTyping(_ context.Context, chatID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key{chatID, userID})
	return nil
}

func (m *Memory) Touch(ctx context.Context, chatID, userID string) error {
	return m.StartTyping(ctx, chatID, userID)
}

func (m *Memory) ListActive(_ context.Context, chatID string) ([]string, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var users []string
	for k, e := range m.entries {
		if k.chatID != chatID {
			continue
		}
		if now.Sub(e.lastActivity) < m.timeout {
			users = append(users, k.userID)
		}
	}
	return users, nil
}

func (m *Memory) IsTyping(_ context.Context, chatID, userID string) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key{chatID, userID}]
	return ok && now.Sub(e.lastActivity) < m.timeout, nil
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}
