package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addr(b byte) domain.Address {
	var a domain.Address
	a[31] = b
	return a
}

func TestAtomicCommitAndRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Atomic(ctx, func(tx domain.Tx) error {
		return tx.CreateStream(domain.Stream{Address: addr(1), Title: "kept", IsActive: true})
	}))

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx domain.Tx) error {
		st, err := tx.Stream(addr(1))
		if err != nil {
			return err
		}
		st.TotalStake = 100
		if err := tx.PutStream(st); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx domain.Tx) error {
		st, err := tx.Stream(addr(1))
		require.NoError(t, err)
		assert.Equal(t, "kept", st.Title)
		assert.Zero(t, st.TotalStake)
		assert.True(t, st.IsActive)
		return nil
	}))
}

func TestCreateIfVacantAndMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := domain.Participant{Address: addr(2), Stream: addr(1), Viewer: addr(3)}

	require.NoError(t, s.Atomic(ctx, func(tx domain.Tx) error { return tx.CreateParticipant(p) }))
	err := s.Atomic(ctx, func(tx domain.Tx) error { return tx.CreateParticipant(p) })
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	err = s.View(ctx, func(tx domain.Tx) error {
		_, err := tx.CommunityVault(addr(9))
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListPredictionsFiltersByStream(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Atomic(ctx, func(tx domain.Tx) error {
		if err := tx.CreatePrediction(domain.Prediction{Address: addr(10), Stream: addr(1)}); err != nil {
			return err
		}
		return tx.CreatePrediction(domain.Prediction{Address: addr(11), Stream: addr(2)})
	}))

	preds, err := s.ListPredictions(ctx, addr(2))
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, addr(11), preds[0].Address)
}
