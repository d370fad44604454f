package token

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyphercast/internal/address"
	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/store/memory"
)

func addr(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	return a
}

func TestTransferChecks(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	mint, other := addr(0xAA), addr(0xBB)
	alice, bob := addr(1), addr(2)

	require.NoError(t, s.Atomic(ctx, func(tx domain.Tx) error {
		if _, err := Mint(tx, mint, alice, 100); err != nil {
			return err
		}
		if _, err := Ensure(tx, mint, bob); err != nil {
			return err
		}
		_, err := Ensure(tx, other, bob)
		return err
	}))
	from := address.TokenAccount(mint, alice)
	to := address.TokenAccount(mint, bob)

	tests := []struct {
		name      string
		to        domain.Address
		authority domain.Address
		amount    uint64
		want      error
	}{
		{"wrong authority", to, bob, 10, domain.ErrBadAuthority},
		{"insufficient", to, alice, 101, domain.ErrInsufficientFunds},
		{"mint mismatch", address.TokenAccount(other, bob), alice, 1, domain.ErrMintMismatch},
		{"missing destination", address.TokenAccount(mint, addr(9)), alice, 1, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Atomic(ctx, func(tx domain.Tx) error {
				return Transfer(tx, from, tt.to, tt.authority, tt.amount)
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	require.NoError(t, s.Atomic(ctx, func(tx domain.Tx) error {
		return Transfer(tx, from, to, alice, 60)
	}))
	require.NoError(t, s.View(ctx, func(tx domain.Tx) error {
		a, err := tx.TokenAccount(from)
		require.NoError(t, err)
		b, err := tx.TokenAccount(to)
		require.NoError(t, err)
		assert.Equal(t, uint64(40), a.Balance)
		assert.Equal(t, uint64(60), b.Balance)
		return nil
	}))
}

func TestZeroTransferIsNoop(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	mint := addr(0xAA)
	require.NoError(t, s.Atomic(ctx, func(tx domain.Tx) error {
		if _, err := Ensure(tx, mint, addr(1)); err != nil {
			return err
		}
		if _, err := Ensure(tx, mint, addr(2)); err != nil {
			return err
		}
		return Transfer(tx, address.TokenAccount(mint, addr(1)), address.TokenAccount(mint, addr(2)), addr(1), 0)
	}))
}

func TestMintOverflow(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	err := s.Atomic(ctx, func(tx domain.Tx) error {
		if _, err := Mint(tx, addr(0xAA), addr(1), math.MaxUint64); err != nil {
			return err
		}
		_, err := Mint(tx, addr(0xAA), addr(1), 1)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrOverflow)
}
