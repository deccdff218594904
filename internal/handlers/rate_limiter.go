package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// windowLimiter throttles webhook deliveries per sender with a fixed window.
// The gateway retries aggressively on anything but 2xx, so a misconfigured
// sender is capped here before it reaches signature verification.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu    sync.Mutex
	slots map[string]windowSlot
}

type windowSlot struct {
	seen    int
	resetAt time.Time
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		slots:  make(map[string]windowSlot),
	}
}

func (l *windowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[key]
	if !ok || now.After(slot.resetAt) {
		l.slots[key] = windowSlot{seen: 1, resetAt: now.Add(l.window)}
		l.dropStaleLocked(now)
		return true
	}

	if slot.seen >= l.limit {
		return false
	}
	slot.seen++
	l.slots[key] = slot
	return true
}

// dropStaleLocked runs on window rollover so the map does not grow with
// one-off senders.
func (l *windowLimiter) dropStaleLocked(now time.Time) {
	for key, slot := range l.slots {
		if now.After(slot.resetAt) {
			delete(l.slots, key)
		}
	}
}
