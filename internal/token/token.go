// Package token moves fungible balances between token accounts inside a
// store transaction. It is the only code that changes a balance.
package token

import (
	"errors"
	"fmt"

	"github.com/alanyoungcy/cyphercast/internal/address"
	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/payout"
)

// Transfer moves amount from one token account to another. authority must
// be the owner of the source account. A zero amount validates both
// accounts and moves nothing.
func Transfer(tx domain.Tx, from, to, authority domain.Address, amount uint64) error {
	src, err := tx.TokenAccount(from)
	if err != nil {
		return fmt.Errorf("token: source %s: %w", from, err)
	}
	dst, err := tx.TokenAccount(to)
	if err != nil {
		return fmt.Errorf("token: destination %s: %w", to, err)
	}
	if src.Mint != dst.Mint {
		return domain.ErrMintMismatch
	}
	if src.Owner != authority {
		return domain.ErrBadAuthority
	}
	if src.Balance < amount {
		return domain.ErrInsufficientFunds
	}
	if amount == 0 || from == to {
		return nil
	}

	credited, err := payout.CheckedAdd(dst.Balance, amount)
	if err != nil {
		return err
	}
	src.Balance -= amount
	dst.Balance = credited

	if err := tx.PutTokenAccount(src); err != nil {
		return fmt.Errorf("token: debit %s: %w", from, err)
	}
	if err := tx.PutTokenAccount(dst); err != nil {
		return fmt.Errorf("token: credit %s: %w", to, err)
	}
	return nil
}

// Ensure returns the associated token account of owner for mint, creating
// an empty one when the address is vacant.
func Ensure(tx domain.Tx, mint, owner domain.Address) (domain.TokenAccount, error) {
	addr := address.TokenAccount(mint, owner)
	acct, err := tx.TokenAccount(addr)
	switch {
	case err == nil:
		if acct.Mint != mint || acct.Owner != owner {
			return acct, domain.ErrMintMismatch
		}
		return acct, nil
	case !errors.Is(err, domain.ErrNotFound):
		return acct, fmt.Errorf("token: load %s: %w", addr, err)
	}

	acct = domain.TokenAccount{Address: addr, Mint: mint, Owner: owner}
	if err := tx.CreateTokenAccount(acct); err != nil {
		return acct, fmt.Errorf("token: create %s: %w", addr, err)
	}
	return acct, nil
}

// Mint credits amount to the associated account of owner. It is used only
// to seed genesis balances.
func Mint(tx domain.Tx, mint, owner domain.Address, amount uint64) (domain.TokenAccount, error) {
	acct, err := Ensure(tx, mint, owner)
	if err != nil {
		return acct, err
	}
	acct.Balance, err = payout.CheckedAdd(acct.Balance, amount)
	if err != nil {
		return acct, err
	}
	if err := tx.PutTokenAccount(acct); err != nil {
		return acct, fmt.Errorf("token: mint to %s: %w", acct.Address, err)
	}
	return acct, nil
}
