// Package memory is an in-process domain.Store. Mutating operations run one
// at a time under a writer lock and stage their writes in an overlay that
// is merged only when the operation succeeds.
package memory

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/store/kv"
)

// Store keeps encoded records in a map keyed by tag||address.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Atomic runs fn with exclusive access and commits its writes only when fn
// returns nil.
func (s *Store) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := &overlay{base: s.data, writes: make(map[string][]byte)}
	if err := fn(kv.NewTx(txn)); err != nil {
		return err
	}
	for k, v := range txn.writes {
		s.data[k] = v
	}
	return nil
}

// View runs fn against a read-only snapshot. Writes are discarded.
func (s *Store) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(kv.NewTx(&overlay{base: s.data, writes: make(map[string][]byte)}))
}

func (s *Store) ListStreams(ctx context.Context, filter domain.StreamFilter, opts domain.ListOpts) ([]domain.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return kv.ListStreams(&overlay{base: s.data}, filter, opts)
}

func (s *Store) ListPredictions(ctx context.Context, stream domain.Address) ([]domain.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return kv.ListPredictions(&overlay{base: s.data}, stream)
}

func (s *Store) Close() error { return nil }

// overlay reads through staged writes to the committed map.
type overlay struct {
	base   map[string][]byte
	writes map[string][]byte
}

func (o *overlay) Get(key []byte) ([]byte, error) {
	if v, ok := o.writes[string(key)]; ok {
		return bytes.Clone(v), nil
	}
	if v, ok := o.base[string(key)]; ok {
		return bytes.Clone(v), nil
	}
	return nil, domain.ErrNotFound
}

func (o *overlay) Set(key, value []byte) error {
	o.writes[string(key)] = bytes.Clone(value)
	return nil
}

func (o *overlay) Scan(prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)
	merged := make(map[string][]byte)
	for k, v := range o.base {
		if strings.HasPrefix(k, p) {
			merged[k] = v
		}
	}
	for k, v := range o.writes {
		if strings.HasPrefix(k, p) {
			merged[k] = v
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), bytes.Clone(merged[k])); err != nil {
			return err
		}
	}
	return nil
}

var _ domain.Store = (*Store)(nil)
