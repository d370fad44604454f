package engine

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/cyphercast/internal/address"
	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/payout"
	"github.com/alanyoungcy/cyphercast/internal/token"
)

// InitializeTokenVault creates the escrow vault of stream for mint. The
// vault's token account is owned by the vault address itself.
func (e *Engine) InitializeTokenVault(ctx context.Context, caller, stream, mint domain.Address) (domain.TokenVault, error) {
	if mint.IsZero() {
		return domain.TokenVault{}, fmt.Errorf("engine: vault mint: %w", domain.ErrInvalidAddress)
	}
	var out domain.TokenVault
	err := e.run(ctx, func(o *op) error {
		s, err := loadStream(o.tx, stream)
		if err != nil {
			return err
		}
		if err := requireCreator(s, caller); err != nil {
			return err
		}
		vaultAddr := address.Vault(s.Address)
		acct, err := token.Ensure(o.tx, mint, vaultAddr)
		if err != nil {
			return err
		}
		v := domain.TokenVault{
			Address:      vaultAddr,
			Stream:       s.Address,
			Mint:         mint,
			TokenAccount: acct.Address,
		}
		if err := o.tx.CreateVault(v); err != nil {
			return fmt.Errorf("engine: create vault %s: %w", vaultAddr, err)
		}
		o.emit(domain.Event{
			Type:         domain.EventVaultInitialized,
			Stream:       s.Address,
			Mint:         mint,
			TokenAccount: acct.Address,
		})
		out = v
		return nil
	})
	return out, err
}

// deposit moves amount from a token account signed by signer into the vault
// and persists the updated totals.
func deposit(o *op, v *domain.TokenVault, from, signer domain.Address, amount uint64) error {
	total, err := payout.CheckedAdd(v.TotalDeposited, amount)
	if err != nil {
		return err
	}
	if err := token.Transfer(o.tx, from, v.TokenAccount, signer, amount); err != nil {
		return err
	}
	v.TotalDeposited = total
	return o.tx.PutVault(*v)
}

// release pays amount out of the vault under the vault's own authority and
// persists the updated totals.
func release(o *op, v *domain.TokenVault, to domain.Address, amount uint64) error {
	total, err := payout.CheckedAdd(v.TotalReleased, amount)
	if err != nil {
		return err
	}
	if total > v.TotalDeposited {
		return domain.ErrVaultOverdrawn
	}
	if err := token.Transfer(o.tx, v.TokenAccount, to, v.Address, amount); err != nil {
		return err
	}
	v.TotalReleased = total
	return o.tx.PutVault(*v)
}
