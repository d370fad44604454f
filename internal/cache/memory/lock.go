// Package memory implements the domain cache interfaces in process, for
// single-instance deployments without Redis.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

// LockManager hands out per-key locks with a TTL. An expired lock may be
// taken over by the next caller.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lockEntry
	seq   uint64
	nowFn func() time.Time
}

// sweepEvery is how many acquisitions pass between purges of expired keys.
const sweepEvery = 1024

type lockEntry struct {
	token   uint64
	expires time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lockEntry), nowFn: time.Now}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.nowFn()
	if lm.seq%sweepEvery == 0 {
		lm.sweep(now)
	}
	if e, ok := lm.held[key]; ok && now.Before(e.expires) {
		return nil, domain.ErrLockHeld
	}
	lm.seq++
	token := lm.seq
	lm.held[key] = lockEntry{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if e, ok := lm.held[key]; ok && e.token == token {
				delete(lm.held, key)
			}
		})
	}, nil
}

// sweep drops expired entries. Keys that are never unlocked, such as
// applied envelopes, would otherwise accumulate. Callers hold lm.mu.
func (lm *LockManager) sweep(now time.Time) {
	for k, e := range lm.held {
		if !now.Before(e.expires) {
			delete(lm.held, k)
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
