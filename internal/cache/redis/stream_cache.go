package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/redis/go-redis/v9"
)

const streamTTL = 2 * time.Minute

// StreamCache implements domain.StreamCache with JSON snapshots stored as
// plain string keys:
//
//	stream:{address} - JSON-encoded domain.Stream
type StreamCache struct {
	client *Client
	ttl    time.Duration
}

// NewStreamCache creates a StreamCache backed by the given Client.
func NewStreamCache(c *Client) *StreamCache {
	return &StreamCache{client: c, ttl: streamTTL}
}

func (sc *StreamCache) key(addr domain.Address) string {
	return sc.client.Key("stream:" + addr.Hex())
}

// Set stores a stream snapshot.
func (sc *StreamCache) Set(ctx context.Context, stream domain.Stream) error {
	data, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("redis: marshal stream %s: %w", stream.Address, err)
	}
	if err := sc.client.Underlying().Set(ctx, sc.key(stream.Address), data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set stream %s: %w", stream.Address, err)
	}
	return nil
}

// Get returns a cached stream, or domain.ErrNotFound on a miss.
func (sc *StreamCache) Get(ctx context.Context, addr domain.Address) (domain.Stream, error) {
	data, err := sc.client.Underlying().Get(ctx, sc.key(addr)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Stream{}, domain.ErrNotFound
		}
		return domain.Stream{}, fmt.Errorf("redis: get stream %s: %w", addr, err)
	}

	var s domain.Stream
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.Stream{}, fmt.Errorf("redis: unmarshal stream %s: %w", addr, err)
	}
	return s, nil
}

// Invalidate removes a cached stream.
func (sc *StreamCache) Invalidate(ctx context.Context, addr domain.Address) error {
	if err := sc.client.Underlying().Del(ctx, sc.key(addr)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate stream %s: %w", addr, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.StreamCache = (*StreamCache)(nil)
