package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

func addr(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	return a
}

func TestAtomicRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx domain.Tx) error {
		require.NoError(t, tx.CreateStream(domain.Stream{Address: addr(1), Title: "x"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(tx domain.Tx) error {
		_, err := tx.Stream(addr(1))
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateIfVacant(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := domain.Prediction{Address: addr(2), Stream: addr(1), Amount: 5}

	require.NoError(t, s.Atomic(ctx, func(tx domain.Tx) error { return tx.CreatePrediction(p) }))
	err := s.Atomic(ctx, func(tx domain.Tx) error { return tx.CreatePrediction(p) })
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestPutRequiresExistingRecord(t *testing.T) {
	s := New()
	err := s.Atomic(context.Background(), func(tx domain.Tx) error {
		return tx.PutVault(domain.TokenVault{Address: addr(3)})
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReadYourWritesInsideAtomic(t *testing.T) {
	s := New()
	err := s.Atomic(context.Background(), func(tx domain.Tx) error {
		if err := tx.CreateTokenAccount(domain.TokenAccount{Address: addr(4), Balance: 1}); err != nil {
			return err
		}
		acct, err := tx.TokenAccount(addr(4))
		if err != nil {
			return err
		}
		acct.Balance = 9
		return tx.PutTokenAccount(acct)
	})
	require.NoError(t, err)

	require.NoError(t, s.View(context.Background(), func(tx domain.Tx) error {
		acct, err := tx.TokenAccount(addr(4))
		require.NoError(t, err)
		assert.Equal(t, uint64(9), acct.Balance)
		return nil
	}))
}

func TestListStreamsAndPredictions(t *testing.T) {
	s := New()
	ctx := context.Background()
	creator := addr(9)
	require.NoError(t, s.Atomic(ctx, func(tx domain.Tx) error {
		for i := byte(1); i <= 3; i++ {
			st := domain.Stream{Address: addr(i), Creator: creator, StartTime: int64(i)}
			if i == 2 {
				st.IsResolved = true
			}
			if err := tx.CreateStream(st); err != nil {
				return err
			}
		}
		if err := tx.CreatePrediction(domain.Prediction{Address: addr(20), Stream: addr(1), Timestamp: 2}); err != nil {
			return err
		}
		return tx.CreatePrediction(domain.Prediction{Address: addr(21), Stream: addr(1), Timestamp: 1})
	}))

	all, err := s.ListStreams(ctx, domain.StreamFilter{}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, addr(3), all[0].Address)

	settled, err := s.ListStreams(ctx, domain.StreamFilter{SettledOnly: true}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, addr(2), settled[0].Address)

	paged, err := s.ListStreams(ctx, domain.StreamFilter{Creator: &creator}, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, addr(2), paged[0].Address)

	preds, err := s.ListPredictions(ctx, addr(1))
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, addr(21), preds[0].Address)
}
