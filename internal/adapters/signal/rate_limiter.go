package signal

import (
	"sync"
	"time"

	"github.com/dkeye/sigrelay/internal/domain"
)

// RateLimiter is a sliding-window limit on inbound messages per connection.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[domain.ConnectionID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

// NewRateLimiter returns nil when limit <= 0; a nil limiter allows everything.
func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	if limit <= 0 {
		return nil
	}
	return &RateLimiter{
		history:  make(map[domain.ConnectionID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(id domain.ConnectionID) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}

	rl.history[id] = append(fresh, now)
	return true
}

func (rl *RateLimiter) Forget(id domain.ConnectionID) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	delete(rl.history, id)
	rl.mu.Unlock()
}
