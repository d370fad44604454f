// Package engine implements the stream lifecycle, escrow accounting and
// prediction ledger. Every exported operation runs as one store transaction:
// a failed precondition or arithmetic check aborts it with no effects, and
// events are emitted only after the transaction commits.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

var errNilStore = errors.New("engine: store not configured")

// NoopEmitter discards events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(domain.Event) {}

// Engine applies operations to a domain.Store.
type Engine struct {
	store   domain.Store
	emitter domain.EventSink
	nowFn   func() int64
}

// New creates an engine over store with a no-op emitter and the wall clock.
func New(store domain.Store) *Engine {
	return &Engine{
		store:   store,
		emitter: NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures where committed events go. Passing nil resets the
// emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter domain.EventSink) {
	if emitter == nil {
		e.emitter = NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the unix-seconds clock. Tests use it for
// deterministic lock cutoffs.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Store returns the backing store.
func (e *Engine) Store() domain.Store { return e.store }

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// op is the state of one running operation.
type op struct {
	tx     domain.Tx
	now    int64
	events []domain.Event
}

func (o *op) emit(ev domain.Event) { o.events = append(o.events, ev) }

// run executes fn atomically and emits its events once the store commits.
// fn may be invoked more than once if the store retries on conflict.
func (e *Engine) run(ctx context.Context, fn func(o *op) error) error {
	if e.store == nil {
		return errNilStore
	}
	now := e.now()
	var committed []domain.Event
	err := e.store.Atomic(ctx, func(tx domain.Tx) error {
		o := &op{tx: tx, now: now}
		if err := fn(o); err != nil {
			return err
		}
		committed = o.events
		return nil
	})
	if err != nil {
		return err
	}
	ts := time.Unix(now, 0).UTC()
	for _, ev := range committed {
		ev.ID = uuid.NewString()
		ev.Timestamp = ts
		e.emitter.Emit(ev)
	}
	return nil
}

func loadStream(tx domain.Tx, addr domain.Address) (domain.Stream, error) {
	s, err := tx.Stream(addr)
	if err != nil {
		return s, fmt.Errorf("engine: stream %s: %w", addr, err)
	}
	return s, nil
}

func loadVault(tx domain.Tx, addr domain.Address) (domain.TokenVault, error) {
	v, err := tx.Vault(addr)
	if errors.Is(err, domain.ErrNotFound) {
		return v, domain.ErrVaultNotInitialized
	}
	if err != nil {
		return v, fmt.Errorf("engine: vault %s: %w", addr, err)
	}
	return v, nil
}

func requireCreator(s domain.Stream, caller domain.Address) error {
	if s.Creator != caller {
		return domain.ErrNotCreator
	}
	return nil
}
