package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

// StreamCache keeps stream snapshots for a fixed TTL.
type StreamCache struct {
	mu      sync.RWMutex
	entries map[domain.Address]cachedStream
	ttl     time.Duration
	nowFn   func() time.Time
}

type cachedStream struct {
	stream  domain.Stream
	expires time.Time
}

// NewStreamCache creates a StreamCache with the given TTL.
func NewStreamCache(ttl time.Duration) *StreamCache {
	return &StreamCache{entries: make(map[domain.Address]cachedStream), ttl: ttl, nowFn: time.Now}
}

func (c *StreamCache) Set(ctx context.Context, stream domain.Stream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[stream.Address] = cachedStream{stream: stream, expires: c.nowFn().Add(c.ttl)}
	return nil
}

func (c *StreamCache) Get(ctx context.Context, addr domain.Address) (domain.Stream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[addr]
	if !ok || !c.nowFn().Before(e.expires) {
		return domain.Stream{}, domain.ErrNotFound
	}
	return e.stream, nil
}

func (c *StreamCache) Invalidate(ctx context.Context, addr domain.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, addr)
	return nil
}

var _ domain.StreamCache = (*StreamCache)(nil)
