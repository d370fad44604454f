package engine

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyphercast/internal/address"
	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/store/memory"
)

const (
	testStart      = int64(1_000)
	testLockOffset = uint32(600)
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEmitter) Emit(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recordingEmitter) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func newTestAddress(fill byte) domain.Address {
	var a domain.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	engine  *Engine
	store   *memory.Store
	events  *recordingEmitter
	now     int64
	mint    domain.Address
	creator domain.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   memory.New(),
		events:  &recordingEmitter{},
		now:     testStart,
		mint:    newTestAddress(0xAA),
		creator: newTestAddress(0xC0),
	}
	f.engine = New(f.store)
	f.engine.SetEmitter(f.events)
	f.engine.SetNowFunc(func() int64 { return f.now })
	return f
}

func (f *fixture) fund(owner domain.Address, amount uint64) {
	f.t.Helper()
	require.NoError(f.t, f.engine.SeedBalances(f.ctx, []Allocation{{Owner: owner, Mint: f.mint, Amount: amount}}))
}

func (f *fixture) balance(owner domain.Address) uint64 {
	f.t.Helper()
	acct, err := f.engine.TokenAccount(f.ctx, address.TokenAccount(f.mint, owner))
	if err != nil {
		require.ErrorIs(f.t, err, domain.ErrNotFound)
		return 0
	}
	return acct.Balance
}

func (f *fixture) openStream(tipBps uint16) domain.Stream {
	f.t.Helper()
	s, err := f.engine.CreateStream(f.ctx, f.creator, CreateStreamParams{
		StreamID:       1,
		Title:          "final score",
		StartTime:      testStart,
		LockOffsetSecs: testLockOffset,
		TipBps:         tipBps,
		Precision:      6,
	})
	require.NoError(f.t, err)
	_, err = f.engine.InitializeTokenVault(f.ctx, f.creator, s.Address, f.mint)
	require.NoError(f.t, err)
	return s
}

func (f *fixture) stake(stream domain.Address, viewer domain.Address, choice uint8, amount uint64) {
	f.t.Helper()
	f.fund(viewer, amount)
	_, err := f.engine.SubmitPrediction(f.ctx, viewer, stream, choice, amount)
	require.NoError(f.t, err)
}

func (f *fixture) stream(addr domain.Address) domain.Stream {
	f.t.Helper()
	s, err := f.engine.Stream(f.ctx, addr)
	require.NoError(f.t, err)
	return s
}

func (f *fixture) vault(stream domain.Address) domain.TokenVault {
	f.t.Helper()
	v, err := f.engine.Vault(f.ctx, stream)
	require.NoError(f.t, err)
	return v
}

func (f *fixture) assertInvariants(stream domain.Address) {
	f.t.Helper()
	s := f.stream(stream)
	var sum uint64
	for _, v := range s.TotalByChoice {
		sum += v
	}
	assert.Equal(f.t, s.TotalStake, sum, "total_stake must equal the per-choice sum")

	v := f.vault(stream)
	assert.LessOrEqual(f.t, v.TotalReleased, v.TotalDeposited)
	assert.Equal(f.t, v.Held(), f.balance(v.Address), "vault balance must match accounting")

	preds, err := f.engine.ListPredictions(f.ctx, stream)
	require.NoError(f.t, err)
	for _, p := range preds {
		assert.False(f.t, p.RewardClaimed && p.Refunded)
	}
}

func TestResolveAndClaimPaysTipAndProportionalRewards(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(500)
	alice, bob, carol := newTestAddress(1), newTestAddress(2), newTestAddress(3)

	f.stake(s.Address, alice, 2, 40)
	f.stake(s.Address, bob, 2, 60)
	f.stake(s.Address, carol, 0, 900)
	f.assertInvariants(s.Address)

	_, err := f.engine.EndStream(f.ctx, f.creator, s.Address)
	require.NoError(t, err)
	resolved, err := f.engine.ResolvePrediction(f.ctx, f.creator, s.Address, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), resolved.TipAmount)
	assert.Equal(t, uint64(50), f.balance(f.creator))
	f.assertInvariants(s.Address)

	claim, err := f.engine.ClaimReward(f.ctx, alice, s.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(380), claim.Amount)
	assert.True(t, claim.Prediction.RewardClaimed)

	claim, err = f.engine.ClaimReward(f.ctx, bob, s.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(570), claim.Amount)

	_, err = f.engine.ClaimReward(f.ctx, carol, s.Address)
	assert.ErrorIs(t, err, domain.ErrNotWinner)

	_, err = f.engine.ClaimReward(f.ctx, alice, s.Address)
	assert.ErrorIs(t, err, domain.ErrRewardClaimed)

	v := f.vault(s.Address)
	assert.Equal(t, uint64(1000), v.TotalDeposited)
	assert.Equal(t, uint64(1000), v.TotalReleased)
	assert.Equal(t, uint64(380), f.balance(alice))
	f.assertInvariants(s.Address)
}

func TestResolveReleasesTipOnlyOnce(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(1000)
	f.stake(s.Address, newTestAddress(1), 0, 100)
	_, err := f.engine.EndStream(f.ctx, f.creator, s.Address)
	require.NoError(t, err)

	_, err = f.engine.ResolvePrediction(f.ctx, f.creator, s.Address, 0)
	require.NoError(t, err)
	_, err = f.engine.ResolvePrediction(f.ctx, f.creator, s.Address, 0)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	assert.Equal(t, uint64(10), f.balance(f.creator))
	assert.Equal(t, uint64(10), f.vault(s.Address).TotalReleased)
}

func TestZeroTipLeavesWholePoolDistributable(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(0)
	viewer := newTestAddress(1)
	f.stake(s.Address, viewer, 4, 77)
	_, err := f.engine.EndStream(f.ctx, f.creator, s.Address)
	require.NoError(t, err)

	resolved, err := f.engine.ResolvePrediction(f.ctx, f.creator, s.Address, 4)
	require.NoError(t, err)
	assert.Zero(t, resolved.TipAmount)

	claim, err := f.engine.ClaimReward(f.ctx, viewer, s.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), claim.Amount)
}

func TestRoundingDustStaysInVault(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(0)
	winners := []domain.Address{newTestAddress(1), newTestAddress(2), newTestAddress(3)}
	for _, w := range winners {
		f.stake(s.Address, w, 1, 1)
	}
	f.stake(s.Address, newTestAddress(4), 0, 97)
	_, err := f.engine.EndStream(f.ctx, f.creator, s.Address)
	require.NoError(t, err)
	_, err = f.engine.ResolvePrediction(f.ctx, f.creator, s.Address, 1)
	require.NoError(t, err)

	for _, w := range winners {
		claim, err := f.engine.ClaimReward(f.ctx, w, s.Address)
		require.NoError(t, err)
		assert.Equal(t, uint64(33), claim.Amount)
	}
	v := f.vault(s.Address)
	assert.Equal(t, uint64(1), v.Held())
	f.assertInvariants(s.Address)
}

func TestSubmitPredictionValidation(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(0)
	viewer := newTestAddress(1)
	f.fund(viewer, 100)

	_, err := f.engine.SubmitPrediction(f.ctx, viewer, s.Address, domain.MaxChoices+1, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidChoice)

	_, err = f.engine.SubmitPrediction(f.ctx, viewer, s.Address, 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidStake)

	_, err = f.engine.SubmitPrediction(f.ctx, viewer, s.Address, domain.MaxChoices, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), f.stream(s.Address).TotalByChoice[domain.MaxChoices])
}

func TestSecondPredictionFailsWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(0)
	viewer := newTestAddress(1)
	f.fund(viewer, 100)

	_, err := f.engine.SubmitPrediction(f.ctx, viewer, s.Address, 1, 30)
	require.NoError(t, err)
	_, err = f.engine.SubmitPrediction(f.ctx, viewer, s.Address, 2, 30)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	assert.Equal(t, uint64(70), f.balance(viewer))
	st := f.stream(s.Address)
	assert.Equal(t, uint64(30), st.TotalStake)
	assert.Zero(t, st.TotalByChoice[2])
	assert.Equal(t, uint64(30), f.vault(s.Address).TotalDeposited)
	f.assertInvariants(s.Address)
}

func TestSubmitAfterLockCutoffFails(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(0)
	viewer := newTestAddress(1)
	f.fund(viewer, 100)

	f.now = testStart + int64(testLockOffset) - 1
	_, err := f.engine.SubmitPrediction(f.ctx, viewer, s.Address, 0, 10)
	require.NoError(t, err)

	other := newTestAddress(2)
	f.fund(other, 100)
	f.now = testStart + int64(testLockOffset)
	_, err = f.engine.SubmitPrediction(f.ctx, other, s.Address, 0, 10)
	assert.ErrorIs(t, err, domain.ErrStreamLocked)
	assert.True(t, f.stream(s.Address).IsActive)
}

func TestSubmitRequiresVaultAndFunds(t *testing.T) {
	f := newFixture(t)
	s, err := f.engine.CreateStream(f.ctx, f.creator, CreateStreamParams{StreamID: 9, StartTime: testStart, LockOffsetSecs: testLockOffset})
	require.NoError(t, err)
	viewer := newTestAddress(1)

	_, err = f.engine.SubmitPrediction(f.ctx, viewer, s.Address, 0, 10)
	assert.ErrorIs(t, err, domain.ErrVaultNotInitialized)

	_, err = f.engine.InitializeTokenVault(f.ctx, f.creator, s.Address, f.mint)
	require.NoError(t, err)
	f.fund(viewer, 5)
	_, err = f.engine.SubmitPrediction(f.ctx, viewer, s.Address, 0, 10)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Zero(t, f.stream(s.Address).TotalStake)
}

func TestSubmitOverflowAbortsWholeOperation(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(0)
	require.NoError(t, f.store.Atomic(f.ctx, func(tx domain.Tx) error {
		st, err := tx.Stream(s.Address)
		if err != nil {
			return err
		}
		st.TotalStake = math.MaxUint64 - 1
		st.TotalByChoice[3] = math.MaxUint64 - 1
		return tx.PutStream(st)
	}))
	viewer := newTestAddress(1)
	f.fund(viewer, 5)

	_, err := f.engine.SubmitPrediction(f.ctx, viewer, s.Address, 3, 5)
	require.ErrorIs(t, err, domain.ErrOverflow)
	assert.Equal(t, uint64(5), f.balance(viewer))
	assert.Zero(t, f.vault(s.Address).TotalDeposited)
	_, err = f.engine.Prediction(f.ctx, s.Address, viewer)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestActivateSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(250)

	activated, err := f.engine.ActivateStream(f.ctx, f.creator, s.Address)
	require.NoError(t, err)
	assert.True(t, activated.IsActivated())
	assert.Equal(t, ConfigHash(s), activated.ConfigHash)

	_, err = f.engine.ActivateStream(f.ctx, f.creator, s.Address)
	assert.ErrorIs(t, err, domain.ErrAlreadyActivated)
	assert.Equal(t, activated.ConfigHash, f.stream(s.Address).ConfigHash)
}

func TestActivateRejectedAfterTerminalStates(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(0)
	_, err := f.engine.CancelStream(f.ctx, f.creator, s.Address)
	require.NoError(t, err)
	_, err = f.engine.ActivateStream(f.ctx, f.creator, s.Address)
	assert.ErrorIs(t, err, domain.ErrStreamCanceled)
}

func TestCreatorOnlyOperations(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(0)
	mallory := newTestAddress(0x66)

	_, err := f.engine.ActivateStream(f.ctx, mallory, s.Address)
	assert.ErrorIs(t, err, domain.ErrNotCreator)
	_, err = f.engine.EndStream(f.ctx, mallory, s.Address)
	assert.ErrorIs(t, err, domain.ErrNotCreator)
	_, err = f.engine.CancelStream(f.ctx, mallory, s.Address)
	assert.ErrorIs(t, err, domain.ErrNotCreator)
	_, err = f.engine.ResolvePrediction(f.ctx, mallory, s.Address, 0)
	assert.ErrorIs(t, err, domain.ErrNotCreator)
	_, err = f.engine.InitializeTokenVault(f.ctx, mallory, s.Address, f.mint)
	assert.ErrorIs(t, err, domain.ErrNotCreator)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
}

func TestCreateStreamValidation(t *testing.T) {
	f := newFixture(t)
	long := make([]byte, domain.MaxTitleLen+1)
	for i := range long {
		long[i] = 'a'
	}

	_, err := f.engine.CreateStream(f.ctx, f.creator, CreateStreamParams{Title: string(long)})
	assert.ErrorIs(t, err, domain.ErrTitleTooLong)
	_, err = f.engine.CreateStream(f.ctx, f.creator, CreateStreamParams{TipBps: domain.MaxTipBps + 1})
	assert.ErrorIs(t, err, domain.ErrInvalidTipBps)
	_, err = f.engine.CreateStream(f.ctx, f.creator, CreateStreamParams{Precision: domain.MaxPrecision + 1})
	assert.ErrorIs(t, err, domain.ErrInvalidPrecision)
	_, err = f.engine.CreateStream(f.ctx, f.creator, CreateStreamParams{StartTime: math.MaxInt64 - 10, LockOffsetSecs: 600})
	assert.ErrorIs(t, err, domain.ErrOverflow)

	edge, err := f.engine.CreateStream(f.ctx, f.creator, CreateStreamParams{StreamID: 6, StartTime: math.MaxInt64 - 600, LockOffsetSecs: 600})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), edge.LockTime())

	s, err := f.engine.CreateStream(f.ctx, f.creator, CreateStreamParams{StreamID: 5, Title: string(long[:domain.MaxTitleLen])})
	require.NoError(t, err)
	assert.True(t, s.IsActive)
	assert.Equal(t, address.Stream(f.creator, 5), s.Address)

	_, err = f.engine.CreateStream(f.ctx, f.creator, CreateStreamParams{StreamID: 5})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestResolveRequirements(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(0)
	f.stake(s.Address, newTestAddress(1), 1, 10)

	_, err := f.engine.ResolvePrediction(f.ctx, f.creator, s.Address, 1)
	assert.ErrorIs(t, err, domain.ErrStreamStillActive)

	_, err = f.engine.EndStream(f.ctx, f.creator, s.Address)
	require.NoError(t, err)
	_, err = f.engine.EndStream(f.ctx, f.creator, s.Address)
	assert.ErrorIs(t, err, domain.ErrStreamNotActive)

	_, err = f.engine.ResolvePrediction(f.ctx, f.creator, s.Address, domain.MaxChoices+1)
	assert.ErrorIs(t, err, domain.ErrInvalidChoice)

	_, err = f.engine.ResolvePrediction(f.ctx, f.creator, s.Address, 2)
	assert.ErrorIs(t, err, domain.ErrNoWinningStake)
	assert.False(t, f.stream(s.Address).IsResolved)
}

func TestResolveAndCancelAreMutuallyExclusive(t *testing.T) {
	t.Run("resolve then cancel", func(t *testing.T) {
		f := newFixture(t)
		s := f.openStream(0)
		f.stake(s.Address, newTestAddress(1), 0, 10)
		_, err := f.engine.EndStream(f.ctx, f.creator, s.Address)
		require.NoError(t, err)
		_, err = f.engine.ResolvePrediction(f.ctx, f.creator, s.Address, 0)
		require.NoError(t, err)

		_, err = f.engine.CancelStream(f.ctx, f.creator, s.Address)
		assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	})

	t.Run("cancel then resolve", func(t *testing.T) {
		f := newFixture(t)
		s := f.openStream(0)
		f.stake(s.Address, newTestAddress(1), 0, 10)
		_, err := f.engine.CancelStream(f.ctx, f.creator, s.Address)
		require.NoError(t, err)

		_, err = f.engine.ResolvePrediction(f.ctx, f.creator, s.Address, 0)
		assert.ErrorIs(t, err, domain.ErrStreamCanceled)
		_, err = f.engine.CancelStream(f.ctx, f.creator, s.Address)
		assert.ErrorIs(t, err, domain.ErrStreamCanceled)
	})
}

func TestRefundPath(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(500)
	alice, bob := newTestAddress(1), newTestAddress(2)
	f.stake(s.Address, alice, 0, 40)
	f.stake(s.Address, bob, 1, 60)

	_, err := f.engine.ClaimRefund(f.ctx, alice, s.Address)
	assert.ErrorIs(t, err, domain.ErrStreamNotCanceled)

	canceled, err := f.engine.CancelStream(f.ctx, f.creator, s.Address)
	require.NoError(t, err)
	assert.False(t, canceled.IsActive)
	assert.Equal(t, testStart, canceled.CanceledAt)

	_, err = f.engine.SubmitPrediction(f.ctx, newTestAddress(3), s.Address, 0, 1)
	assert.ErrorIs(t, err, domain.ErrStreamCanceled)

	claim, err := f.engine.ClaimRefund(f.ctx, alice, s.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), claim.Amount)
	assert.True(t, claim.Prediction.Refunded)
	assert.Equal(t, uint64(40), f.balance(alice))

	_, err = f.engine.ClaimRefund(f.ctx, alice, s.Address)
	assert.ErrorIs(t, err, domain.ErrAlreadyRefunded)
	_, err = f.engine.ClaimReward(f.ctx, bob, s.Address)
	assert.ErrorIs(t, err, domain.ErrStreamCanceled)

	_, err = f.engine.ClaimRefund(f.ctx, bob, s.Address)
	require.NoError(t, err)
	v := f.vault(s.Address)
	assert.Equal(t, v.TotalDeposited, v.TotalReleased)
	f.assertInvariants(s.Address)
}

func TestRefundOfZeroStakePrediction(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(0)
	viewer := newTestAddress(1)
	require.NoError(t, f.store.Atomic(f.ctx, func(tx domain.Tx) error {
		return tx.CreatePrediction(domain.Prediction{
			Address: address.Prediction(s.Address, viewer),
			Stream:  s.Address,
			Viewer:  viewer,
		})
	}))
	_, err := f.engine.CancelStream(f.ctx, f.creator, s.Address)
	require.NoError(t, err)

	claim, err := f.engine.ClaimRefund(f.ctx, viewer, s.Address)
	require.NoError(t, err)
	assert.Zero(t, claim.Amount)
	assert.True(t, claim.Prediction.Refunded)
	assert.Zero(t, f.vault(s.Address).TotalReleased)
}

func TestClaimWithoutPrediction(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(0)
	_, err := f.engine.ClaimReward(f.ctx, newTestAddress(9), s.Address)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaimBeforeResolution(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(0)
	viewer := newTestAddress(1)
	f.stake(s.Address, viewer, 0, 10)
	_, err := f.engine.ClaimReward(f.ctx, viewer, s.Address)
	assert.ErrorIs(t, err, domain.ErrNotResolved)
}

func TestJoinStream(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(0)
	viewer := newTestAddress(1)

	p, err := f.engine.JoinStream(f.ctx, viewer, s.Address)
	require.NoError(t, err)
	assert.Equal(t, address.Participant(s.Address, viewer), p.Address)
	assert.Zero(t, p.StakeAmount)
	assert.Equal(t, testStart, p.JoinedAt)

	_, err = f.engine.JoinStream(f.ctx, viewer, s.Address)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = f.engine.EndStream(f.ctx, f.creator, s.Address)
	require.NoError(t, err)
	_, err = f.engine.JoinStream(f.ctx, newTestAddress(2), s.Address)
	assert.ErrorIs(t, err, domain.ErrStreamNotActive)
}

func TestVaultInitializedOnce(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(0)
	_, err := f.engine.InitializeTokenVault(f.ctx, f.creator, s.Address, f.mint)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	v := f.vault(s.Address)
	assert.Equal(t, address.Vault(s.Address), v.Address)
	assert.Equal(t, address.TokenAccount(f.mint, v.Address), v.TokenAccount)
}

func TestCommunityVault(t *testing.T) {
	f := newFixture(t)
	authority := newTestAddress(0x0A)
	donor := newTestAddress(0x0D)

	_, err := f.engine.Contribute(f.ctx, donor, 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cv, err := f.engine.InitializeCommunityVault(f.ctx, authority, f.mint)
	require.NoError(t, err)
	assert.Equal(t, authority, cv.Authority)
	assert.Equal(t, address.CommunityVault(), cv.Address)

	_, err = f.engine.InitializeCommunityVault(f.ctx, donor, f.mint)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = f.engine.Contribute(f.ctx, donor, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	f.fund(donor, 25)
	cv, err = f.engine.Contribute(f.ctx, donor, 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), cv.TotalContributions)
	assert.Equal(t, uint64(5), f.balance(donor))
	assert.Equal(t, uint64(20), f.balance(cv.Address))

	events := f.events.types()
	assert.Contains(t, events, domain.EventCommunityVaultInitialized)
	assert.Contains(t, events, domain.EventCommunityContribution)
}

func TestEventsEmittedOnlyAfterCommit(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(0)
	viewer := newTestAddress(1)
	f.fund(viewer, 10)
	f.events.reset()

	_, err := f.engine.SubmitPrediction(f.ctx, viewer, s.Address, 0, 50)
	require.Error(t, err)
	assert.Empty(t, f.events.types())

	_, err = f.engine.SubmitPrediction(f.ctx, viewer, s.Address, 0, 10)
	require.NoError(t, err)
	require.Len(t, f.events.events, 1)
	ev := f.events.events[0]
	assert.Equal(t, domain.EventPredictionSubmitted, ev.Type)
	assert.Equal(t, s.Address, ev.Stream)
	assert.Equal(t, viewer, ev.Viewer)
	assert.Equal(t, uint64(10), ev.Amount)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, testStart, ev.Timestamp.Unix())
}

func TestConcurrentSubmissionsKeepAggregatesConsistent(t *testing.T) {
	f := newFixture(t)
	s := f.openStream(0)

	const viewers = 64
	for i := range viewers {
		f.fund(newTestAddress(byte(i+1)), 100)
	}

	var wg sync.WaitGroup
	errs := make(chan error, viewers)
	for i := range viewers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.SubmitPrediction(f.ctx, newTestAddress(byte(i+1)), s.Address, uint8(i%domain.ChoiceSlots), uint64(i+1))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var want uint64
	for i := range viewers {
		want += uint64(i + 1)
	}
	assert.Equal(t, want, f.stream(s.Address).TotalStake)
	assert.Equal(t, want, f.vault(s.Address).TotalDeposited)
	f.assertInvariants(s.Address)
}
