package engine

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/cyphercast/internal/address"
	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/payout"
	"github.com/alanyoungcy/cyphercast/internal/token"
)

// InitializeCommunityVault creates the singleton community pool for mint
// with caller as its authority.
func (e *Engine) InitializeCommunityVault(ctx context.Context, caller, mint domain.Address) (domain.CommunityVault, error) {
	if mint.IsZero() {
		return domain.CommunityVault{}, fmt.Errorf("engine: community mint: %w", domain.ErrInvalidAddress)
	}
	var out domain.CommunityVault
	err := e.run(ctx, func(o *op) error {
		addr := address.CommunityVault()
		acct, err := token.Ensure(o.tx, mint, addr)
		if err != nil {
			return err
		}
		cv := domain.CommunityVault{
			Address:      addr,
			Authority:    caller,
			Mint:         mint,
			TokenAccount: acct.Address,
		}
		if err := o.tx.CreateCommunityVault(cv); err != nil {
			return fmt.Errorf("engine: community vault: %w", err)
		}
		o.emit(domain.CommunityVaultInitialized(caller, mint, acct.Address))
		out = cv
		return nil
	})
	return out, err
}

// Contribute moves amount from caller's token account into the community
// pool.
func (e *Engine) Contribute(ctx context.Context, caller domain.Address, amount uint64) (domain.CommunityVault, error) {
	if amount == 0 {
		return domain.CommunityVault{}, domain.ErrInvalidAmount
	}
	var out domain.CommunityVault
	err := e.run(ctx, func(o *op) error {
		cv, err := o.tx.CommunityVault(address.CommunityVault())
		if err != nil {
			return fmt.Errorf("engine: community vault: %w", err)
		}
		total, err := payout.CheckedAdd(cv.TotalContributions, amount)
		if err != nil {
			return err
		}
		if err := token.Transfer(o.tx, address.TokenAccount(cv.Mint, caller), cv.TokenAccount, caller, amount); err != nil {
			return err
		}
		cv.TotalContributions = total
		if err := o.tx.PutCommunityVault(cv); err != nil {
			return err
		}
		o.emit(domain.Event{
			Type:   domain.EventCommunityContribution,
			Viewer: caller,
			Mint:   cv.Mint,
			Amount: amount,
		})
		out = cv
		return nil
	})
	return out, err
}
