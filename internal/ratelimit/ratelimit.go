// Package ratelimit throttles client operations with fixed time windows
// keyed by (actor, operation class).
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Class is an operation class with its own ceiling and window.
type Class string

const (
	ClassCommand   Class = "command"
	ClassTyping    Class = "typing"
	ClassAck       Class = "ack"
	ClassSubscribe Class = "subscribe"
	ClassConnect   Class = "connect"
)

// Limit is the ceiling for one operation class within its window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// DefaultLimits are the per-class ceilings. A denial is throttling only;
// it is never escalated to a ban.
var DefaultLimits = map[Class]Limit{
	ClassCommand:   {60, time.Minute},
	ClassTyping:    {20, 10 * time.Second},
	ClassAck:       {100, time.Minute},
	ClassSubscribe: {30, time.Minute},
	ClassConnect:   {10, 5 * time.Minute},
}

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window counter table. One instance serves all
// connections of a process; keys combine actor and operation class.
type Limiter struct {
	mu     sync.Mutex
	table  map[string]entry
	limits map[Class]Limit
	now    func() time.Time
}

// New creates a limiter with the given per-class limits (nil for defaults).
func New(limits map[Class]Limit) *Limiter {
	if limits == nil {
		limits = DefaultLimits
	}
	return &Limiter{
		table:  make(map[string]entry),
		limits: limits,
		now:    time.Now,
	}
}

// Key builds the table key for an actor and operation class.
func Key(actor string, class Class) string {
	return actor + ":" + string(class)
}

// Allow counts one request against the actor's window for the class and
// reports whether it fits under the ceiling.
func (l *Limiter) Allow(actor string, class Class) bool {
	limit, ok := l.limits[class]
	if !ok {
		return true
	}
	now := l.now()
	k := Key(actor, class)

	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.table[k]
	if !ok || now.After(e.resetAt) {
		l.table[k] = entry{count: 1, resetAt: now.Add(limit.Window)}
		return true
	}
	e.count++
	l.table[k] = e
	return e.count <= limit.Requests
}

// Remaining reports how many requests are left in the current window.
func (l *Limiter) Remaining(actor string, class Class) int {
	limit, ok := l.limits[class]
	if !ok {
		return 0
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.table[Key(actor, class)]
	if !ok || now.After(e.resetAt) {
		return limit.Requests
	}
	remaining := limit.Requests - e.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetTime reports when the actor's current window for the class ends.
func (l *Limiter) ResetTime(actor string, class Class) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.table[Key(actor, class)]
	if !ok {
		return l.now()
	}
	return e.resetAt
}

// RetryAfter renders the human-readable denial reason for a throttled
// actor.
func (l *Limiter) RetryAfter(actor string, class Class) string {
	wait := l.ResetTime(actor, class).Sub(l.now())
	secs := int(wait.Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", secs)
}

// Sweep drops expired windows. Callers may run it periodically to bound
// table growth; correctness does not depend on it.
func (l *Limiter) Sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.table {
		if now.After(e.resetAt) {
			delete(l.table, k)
		}
	}
}
