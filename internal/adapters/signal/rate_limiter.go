package signal

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/namithm70/fitness-sub000/internal/domain"
)

// OfferRateLimiter allows at most limit offers per user within a sliding interval.
type OfferRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
	clock    clock.Clock
}

func NewOfferRateLimiter(limit int, interval time.Duration, clk clock.Clock) *OfferRateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &OfferRateLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
		clock:    clk,
	}
}

func (rl *OfferRateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[uid]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}

	rl.history[uid] = append(fresh, now)
	return true
}
