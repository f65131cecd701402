// Package receipts tracks per-chat, per-user delivery and read watermarks.
package receipts

import (
	"context"
	"sync"
	"time"
)

// Receipt is one user's watermark in one chat: the highest acknowledged
// message sequence number and when it was recorded.
type Receipt struct {
	MaxSeq int64 `json:"maxSeq"`
	TS     int64 `json:"ts"` // unix ms
}

// ChatReceipts is the full receipt state of one chat.
type ChatReceipts struct {
	Delivered map[string]Receipt `json:"delivered"` // userID -> watermark
	Read      map[string]Receipt `json:"read"`
}

// Manager is the receipt-bookkeeping contract. Watermarks are monotonic:
// an ack with a lower-or-equal seq than the stored value is a no-op.
type Manager interface {
	RecordDelivery(ctx context.Context, chatID, userID string, seq int64) error
	RecordRead(ctx context.Context, chatID, userID string, seq int64) error
	UnreadCount(ctx context.Context, chatID, userID string) (int64, error)
	ReceiptsFor(ctx context.Context, chatID string) (*ChatReceipts, error)
	Close() error
}

// Disabled is the no-op manager used when the receipts feature flag is off.
type Disabled struct{}

func (Disabled) RecordDelivery(context.Context, string, string, int64) error { return nil }
func (Disabled) RecordRead(context.Context, string, string, int64) error { return nil }
func (Disabled) UnreadCount(context.Context, string, string) (int64, error) { return 0, nil }
func (Disabled) ReceiptsFor(context.Context, string) (*ChatReceipts, error) {
	return &ChatReceipts{Delivered: map[string]Receipt{}, Read: map[string]Receipt{}}, nil
}
func (Disabled) Close() error { return nil }

type key struct {
	chatID string
	userID string
}

// Memory is the in-process manager.
type Memory struct {
	mu        sync.Mutex
	delivered map[key]Receipt
	read      map[key]Receipt
	now       func() time.Time
}

// NewMemory creates an in-process receipts manager.
func NewMemory() *Memory {
	return &Memory{
		delivered: make(map[key]Receipt),
		read:      make(map[key]Receipt),
		now:       time.Now,
	}
}

func (m *Memory) record(table map[key]Receipt, chatID, userID string, seq int64) {
	k := key{chatID, userID}
	if cur, ok := table[k]; ok && cur.MaxSeq >= seq {
		return
	}
	table[k] = Receipt{MaxSeq: seq, TS: m.now().UnixMilli()}
}

func (m *Memory) RecordDelivery(_ context.Context, chatID, userID string, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(m.delivered, chatID, userID, seq)
	return nil
}

func (m *Memory) RecordRead(_ context.Context, chatID, userID string, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(m.read, chatID, userID, seq)
	return nil
}

// UnreadCount is max(0, maxDelivered - maxRead). With no delivery receipt
// there is nothing delivered to measure against, so the count is 0.
func (m *Memory) UnreadCount(_ context.Context, chatID, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{chatID, userID}
	delivered, ok := m.delivered[k]
	if !ok {
		return 0, nil
	}
	unread := delivered.MaxSeq - m.read[k].MaxSeq
	if unread < 0 {
		unread = 0
	}
	return unread, nil
}

func (m *Memory) ReceiptsFor(_ context.Context, chatID string) (*ChatReceipts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &ChatReceipts{
		Delivered: make(map[string]Receipt),
		Read:      make(map[string]Receipt),
	}
	for k, r := range m.delivered {
		if k.chatID == chatID {
			out.Delivered[k.userID] = r
		}
	}
	for k, r := range m.read {
		if k.chatID == chatID {
			out.Read[k.userID] = r
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
