package engine

import (
	"context"

	"github.com/alanyoungcy/cyphercast/internal/address"
	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/token"
)

// Stream returns the stream at addr.
func (e *Engine) Stream(ctx context.Context, addr domain.Address) (domain.Stream, error) {
	var out domain.Stream
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.Stream(addr)
		return err
	})
	return out, err
}

// Vault returns the escrow vault of stream.
func (e *Engine) Vault(ctx context.Context, stream domain.Address) (domain.TokenVault, error) {
	var out domain.TokenVault
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.Vault(address.Vault(stream))
		return err
	})
	return out, err
}

// Prediction returns viewer's prediction on stream.
func (e *Engine) Prediction(ctx context.Context, stream, viewer domain.Address) (domain.Prediction, error) {
	var out domain.Prediction
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.Prediction(address.Prediction(stream, viewer))
		return err
	})
	return out, err
}

// Participant returns viewer's attendance record on stream.
func (e *Engine) Participant(ctx context.Context, stream, viewer domain.Address) (domain.Participant, error) {
	var out domain.Participant
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.Participant(address.Participant(stream, viewer))
		return err
	})
	return out, err
}

// CommunityVault returns the singleton community pool.
func (e *Engine) CommunityVault(ctx context.Context) (domain.CommunityVault, error) {
	var out domain.CommunityVault
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.CommunityVault(address.CommunityVault())
		return err
	})
	return out, err
}

// TokenAccount returns the token account at addr.
func (e *Engine) TokenAccount(ctx context.Context, addr domain.Address) (domain.TokenAccount, error) {
	var out domain.TokenAccount
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.TokenAccount(addr)
		return err
	})
	return out, err
}

// ListStreams pages streams newest first.
func (e *Engine) ListStreams(ctx context.Context, filter domain.StreamFilter, opts domain.ListOpts) ([]domain.Stream, error) {
	return e.store.ListStreams(ctx, filter, opts)
}

// ListPredictions returns every prediction on stream.
func (e *Engine) ListPredictions(ctx context.Context, stream domain.Address) ([]domain.Prediction, error) {
	return e.store.ListPredictions(ctx, stream)
}

// Allocation is a genesis balance.
type Allocation struct {
	Owner  domain.Address
	Mint   domain.Address
	Amount uint64
}

// SeedBalances credits genesis allocations in one transaction.
func (e *Engine) SeedBalances(ctx context.Context, allocs []Allocation) error {
	return e.run(ctx, func(o *op) error {
		for _, a := range allocs {
			if _, err := token.Mint(o.tx, a.Mint, a.Owner, a.Amount); err != nil {
				return err
			}
		}
		return nil
	})
}
