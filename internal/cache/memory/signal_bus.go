package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

const (
	subscriberBuffer = 128
	streamMaxLen     = 10000
)

// SignalBus is an in-process pub/sub bus with bounded durable streams.
// Slow subscribers drop messages instead of blocking publishers.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	nextID  int
	streams map[string]*streamLog
}

type subscriber struct {
	pattern string
	ch      chan []byte
}

type streamLog struct {
	seq     uint64
	entries []domain.StreamMessage
}

// NewSignalBus creates an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[int]*subscriber),
		streams: make(map[string]*streamLog),
	}
}

func matches(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}

// Publish delivers payload to every subscriber whose pattern matches.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !matches(s.pattern, channel) {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers for channel, which may end in "*" to match a prefix.
// The returned channel closes when ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &subscriber{pattern: channel, ch: make(chan []byte, subscriberBuffer)}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

// StreamAppend appends payload to the named stream, keeping at most
// streamMaxLen entries.
func (b *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	log, ok := b.streams[stream]
	if !ok {
		log = &streamLog{}
		b.streams[stream] = log
	}
	log.seq++
	log.entries = append(log.entries, domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", log.seq),
		Payload: append([]byte(nil), payload...),
	})
	if over := len(log.entries) - streamMaxLen; over > 0 {
		log.entries = log.entries[over:]
	}
	return nil
}

// StreamRead returns up to count entries with IDs greater than lastID.
func (b *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := parseStreamID(lastID)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	log, ok := b.streams[stream]
	if !ok {
		return nil, nil
	}
	var out []domain.StreamMessage
	for _, m := range log.entries {
		seq, _ := parseStreamID(m.ID)
		if seq <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func parseStreamID(id string) (uint64, error) {
	if id == "" || id == "0" || id == "0-0" {
		return 0, nil
	}
	head, _, _ := strings.Cut(id, "-")
	seq, err := strconv.ParseUint(head, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memory: invalid stream id %q: %w", id, err)
	}
	return seq, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
