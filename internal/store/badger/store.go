// Package badger is a domain.Store on an embedded Badger database. Each
// mutating operation is one Badger update transaction; conflicting
// transactions are retried.
package badger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/store/kv"
)

const (
	maxConflictRetries = 8
	gcInterval         = 5 * time.Minute
)

// Config holds Badger settings. An empty Dir opens an in-memory database.
type Config struct {
	Dir string
}

// Store wraps a Badger database.
type Store struct {
	db     *badgerdb.DB
	logger *slog.Logger

	gcStop chan struct{}
	gcWg   sync.WaitGroup
}

// New opens the database described by cfg.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	opts := badgerdb.DefaultOptions(cfg.Dir).
		WithLogger(&badgerLogger{logger: logger}).
		WithLoggingLevel(badgerdb.WARNING)
	if cfg.Dir == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("badger: create data dir: %w", err)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	s := &Store{db: db, logger: logger}
	if cfg.Dir != "" {
		s.gcStop = make(chan struct{})
		s.gcWg.Add(1)
		go s.runGC()
	}
	return s, nil
}

func (s *Store) runGC() {
	defer s.gcWg.Done()
	t := time.NewTicker(gcInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					if !errors.Is(err, badgerdb.ErrNoRewrite) {
						s.logger.Warn("badger: value log gc failed", slog.String("error", err.Error()))
					}
					break
				}
			}
		case <-s.gcStop:
			return
		}
	}
}

// Atomic runs fn inside an update transaction, retrying on write conflicts.
func (s *Store) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badgerdb.Txn) error {
			return fn(kv.NewTx(rawTxn{txn: txn}))
		})
		if errors.Is(err, badgerdb.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		return err
	}
}

// View runs fn inside a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badgerdb.Txn) error {
		return fn(kv.NewTx(rawTxn{txn: txn}))
	})
}

func (s *Store) ListStreams(ctx context.Context, filter domain.StreamFilter, opts domain.ListOpts) ([]domain.Stream, error) {
	var out []domain.Stream
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		out, err = kv.ListStreams(rawTxn{txn: txn}, filter, opts)
		return err
	})
	return out, err
}

func (s *Store) ListPredictions(ctx context.Context, stream domain.Address) ([]domain.Prediction, error) {
	var out []domain.Prediction
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		out, err = kv.ListPredictions(rawTxn{txn: txn}, stream)
		return err
	})
	return out, err
}

// Close stops value log GC and closes the database.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		s.gcWg.Wait()
		s.gcStop = nil
	}
	return s.db.Close()
}

type rawTxn struct {
	txn *badgerdb.Txn
}

func (r rawTxn) Get(key []byte) ([]byte, error) {
	item, err := r.txn.Get(key)
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("badger: get: %w", err)
	}
	return item.ValueCopy(nil)
}

func (r rawTxn) Set(key, value []byte) error {
	return r.txn.Set(key, value)
}

func (r rawTxn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	it := r.txn.NewIterator(badgerdb.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		v, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("badger: scan value: %w", err)
		}
		if err := fn(item.KeyCopy(nil), v); err != nil {
			return err
		}
	}
	return nil
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(msg string, args ...any) {
	l.logger.Error(fmt.Sprintf(msg, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(msg string, args ...any) {
	l.logger.Warn(fmt.Sprintf(msg, args...), "component", "badger")
}

func (l *badgerLogger) Infof(msg string, args ...any) {
	l.logger.Info(fmt.Sprintf(msg, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(msg string, args ...any) {
	l.logger.Debug(fmt.Sprintf(msg, args...), "component", "badger")
}

var _ domain.Store = (*Store)(nil)
