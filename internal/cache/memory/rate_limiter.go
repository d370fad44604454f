package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

const waitPollInterval = 50 * time.Millisecond

// RateLimiter is a sliding-window limiter keeping request timestamps per key.
type RateLimiter struct {
	mu         sync.Mutex
	hits       map[string][]time.Time
	waitLimit  int
	waitWindow time.Duration
	nowFn      func() time.Time
}

// NewRateLimiter creates a RateLimiter. Wait admits waitLimit requests per
// waitWindow for each key.
func NewRateLimiter(waitLimit int, waitWindow time.Duration) *RateLimiter {
	if waitLimit <= 0 {
		waitLimit = 1
	}
	if waitWindow <= 0 {
		waitWindow = time.Second
	}
	return &RateLimiter{
		hits:       make(map[string][]time.Time),
		waitLimit:  waitLimit,
		waitWindow: waitWindow,
		nowFn:      time.Now,
	}
}

// Allow reports whether another request for key fits in the window and
// counts it when it does.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	cutoff := now.Add(-window)
	kept := rl.hits[key][:0]
	for _, ts := range rl.hits[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= limit {
		rl.hits[key] = kept
		return false, nil
	}
	rl.hits[key] = append(kept, now)
	return true, nil
}

// Wait blocks until key is allowed under the default limit or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, err := rl.Allow(ctx, key, rl.waitLimit, rl.waitWindow)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("memory: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
