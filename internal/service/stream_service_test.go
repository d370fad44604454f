package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyphercast/internal/address"
	memcache "github.com/alanyoungcy/cyphercast/internal/cache/memory"
	"github.com/alanyoungcy/cyphercast/internal/crypto"
	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/engine"
	"github.com/alanyoungcy/cyphercast/internal/metrics"
	memstore "github.com/alanyoungcy/cyphercast/internal/store/memory"
)

var testMint = domain.Address{0xAA}

type harness struct {
	t       *testing.T
	svc     *StreamService
	eng     *engine.Engine
	bus     *memcache.SignalBus
	locks   *memcache.LockManager
	cache   *memcache.StreamCache
	now     int64
	creator *crypto.Signer
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, now: 1_700_000_000}

	eng := engine.New(memstore.New())
	eng.SetNowFunc(func() int64 { return h.now })
	h.eng = eng
	h.bus = memcache.NewSignalBus()
	h.locks = memcache.NewLockManager()

	m := metrics.New()
	eng.SetEmitter(NewEventPublisher(h.bus, nil, nil, m, discardLogger()))

	verifier := crypto.NewVerifier(time.Hour)
	h.cache = memcache.NewStreamCache(time.Minute)
	h.svc = NewStreamService(eng, verifier, h.locks, h.cache, m,
		StreamServiceConfig{LockTTL: time.Second, LockWait: 50 * time.Millisecond}, discardLogger())

	creator, err := crypto.GenerateSigner()
	require.NoError(t, err)
	h.creator = creator
	return h
}

func (h *harness) sign(s *crypto.Signer, op string, payload any) crypto.Envelope {
	h.t.Helper()
	env, err := s.Sign(op, payload, time.Now().Add(time.Minute).Unix())
	require.NoError(h.t, err)
	return env
}

func (h *harness) viewer(amount uint64) *crypto.Signer {
	h.t.Helper()
	s, err := crypto.GenerateSigner()
	require.NoError(h.t, err)
	require.NoError(h.t, h.eng.SeedBalances(context.Background(), []engine.Allocation{
		{Owner: s.Identity(), Mint: testMint, Amount: amount},
	}))
	return s
}

func (h *harness) openStream() domain.Address {
	h.t.Helper()
	ctx := context.Background()
	st, err := h.svc.CreateStream(ctx, h.sign(h.creator, OpCreateStream, CreateStreamPayload{
		StreamID:       1,
		Title:          "finals",
		StartTime:      h.now,
		LockOffsetSecs: 600,
		TipBps:         500,
	}))
	require.NoError(h.t, err)
	_, err = h.svc.InitializeTokenVault(ctx, st.Address, h.sign(h.creator, OpInitializeTokenVault,
		VaultPayload{Stream: st.Address, Mint: testMint}))
	require.NoError(h.t, err)
	return st.Address
}

func TestFullLifecycleThroughService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stream := h.openStream()
	assert.Equal(t, address.Stream(h.creator.Identity(), 1), stream)

	alice := h.viewer(1000)
	bob := h.viewer(1000)

	_, err := h.svc.ActivateStream(ctx, stream, h.sign(h.creator, OpActivateStream, StreamPayload{Stream: stream}))
	require.NoError(t, err)

	_, err = h.svc.JoinStream(ctx, stream, h.sign(alice, OpJoinStream, StreamPayload{Stream: stream}))
	require.NoError(t, err)

	_, err = h.svc.SubmitPrediction(ctx, stream, h.sign(alice, OpSubmitPrediction,
		PredictionPayload{Stream: stream, Choice: 1, Amount: 300}))
	require.NoError(t, err)
	_, err = h.svc.SubmitPrediction(ctx, stream, h.sign(bob, OpSubmitPrediction,
		PredictionPayload{Stream: stream, Choice: 2, Amount: 100}))
	require.NoError(t, err)

	st, err := h.svc.Stream(ctx, stream)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), st.TotalStake)

	_, err = h.svc.EndStream(ctx, stream, h.sign(h.creator, OpEndStream, StreamPayload{Stream: stream}))
	require.NoError(t, err)

	st, err = h.svc.ResolvePrediction(ctx, stream, h.sign(h.creator, OpResolvePrediction,
		ResolvePayload{Stream: stream, WinningChoice: 1}))
	require.NoError(t, err)
	assert.Equal(t, uint64(20), st.TipAmount)

	claim, err := h.svc.ClaimReward(ctx, stream, h.sign(alice, OpClaimReward, StreamPayload{Stream: stream}))
	require.NoError(t, err)
	assert.Equal(t, uint64(380), claim.Amount)

	_, err = h.svc.ClaimReward(ctx, stream, h.sign(bob, OpClaimReward, StreamPayload{Stream: stream}))
	assert.ErrorIs(t, err, domain.ErrNotWinner)

	msgs, err := h.bus.StreamRead(ctx, EventLogStream, "0", 100)
	require.NoError(t, err)
	assert.NotEmpty(t, msgs)
}

func TestCachedStreamInvalidatedAfterMutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stream := h.openStream()
	alice := h.viewer(500)

	st, err := h.svc.Stream(ctx, stream)
	require.NoError(t, err)
	assert.Zero(t, st.TotalStake)

	_, err = h.svc.SubmitPrediction(ctx, stream, h.sign(alice, OpSubmitPrediction,
		PredictionPayload{Stream: stream, Choice: 0, Amount: 50}))
	require.NoError(t, err)

	st, err = h.svc.Stream(ctx, stream)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), st.TotalStake)
}

func TestStreamReadSkipsCacheWhileWriterHoldsLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stream := h.openStream()

	unlock, err := h.locks.Acquire(ctx, streamLock(stream), time.Minute)
	require.NoError(t, err)
	st, err := h.svc.Stream(ctx, stream)
	require.NoError(t, err)
	assert.Equal(t, stream, st.Address)
	_, err = h.cache.Get(ctx, stream)
	assert.Error(t, err, "a read racing a writer must not fill the cache")
	unlock()

	_, err = h.svc.Stream(ctx, stream)
	require.NoError(t, err)
	cached, err := h.cache.Get(ctx, stream)
	require.NoError(t, err)
	assert.Equal(t, stream, cached.Address)
}

func TestEnvelopeMustMatchOperationAndStream(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stream := h.openStream()
	other := address.Stream(h.creator.Identity(), 2)

	_, err := h.svc.CancelStream(ctx, stream, h.sign(h.creator, OpEndStream, StreamPayload{Stream: stream}))
	assert.ErrorIs(t, err, domain.ErrBadSignature)

	_, err = h.svc.CancelStream(ctx, stream, h.sign(h.creator, OpCancelStream, StreamPayload{Stream: other}))
	assert.ErrorIs(t, err, errStreamMismatch)

	env := h.sign(h.creator, OpCancelStream, StreamPayload{Stream: stream})
	env.Payload = []byte(`{"stream":"` + stream.Hex() + `" }`)
	_, err = h.svc.CancelStream(ctx, stream, env)
	assert.ErrorIs(t, err, domain.ErrNotCreator, "tampered payload recovers a different signer")
}

func TestNonCreatorCannotCancel(t *testing.T) {
	h := newHarness(t)
	stream := h.openStream()
	mallory := h.viewer(0)

	_, err := h.svc.CancelStream(context.Background(), stream, h.sign(mallory, OpCancelStream, StreamPayload{Stream: stream}))
	assert.ErrorIs(t, err, domain.ErrNotCreator)
}

func TestHeldLockTimesOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stream := h.openStream()

	unlock, err := h.locks.Acquire(ctx, streamLock(stream), time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = h.svc.EndStream(ctx, stream, h.sign(h.creator, OpEndStream, StreamPayload{Stream: stream}))
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestConcurrentClaimsPayOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stream := h.openStream()
	alice := h.viewer(100)

	_, err := h.svc.SubmitPrediction(ctx, stream, h.sign(alice, OpSubmitPrediction,
		PredictionPayload{Stream: stream, Choice: 0, Amount: 100}))
	require.NoError(t, err)
	_, err = h.svc.EndStream(ctx, stream, h.sign(h.creator, OpEndStream, StreamPayload{Stream: stream}))
	require.NoError(t, err)
	_, err = h.svc.ResolvePrediction(ctx, stream, h.sign(h.creator, OpResolvePrediction,
		ResolvePayload{Stream: stream, WinningChoice: 0}))
	require.NoError(t, err)

	h.svc.cfg.LockWait = 2 * time.Second
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		paid int
	)
	env := h.sign(alice, OpClaimReward, StreamPayload{Stream: stream})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.ClaimReward(ctx, stream, env)
			if err == nil {
				mu.Lock()
				paid++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, paid)
}

func TestCommunityThroughService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	carol := h.viewer(100)

	_, err := h.svc.InitializeCommunityVault(ctx, h.sign(h.creator, OpInitializeCommunityVault, CommunityPayload{Mint: testMint}))
	require.NoError(t, err)

	cv, err := h.svc.Contribute(ctx, h.sign(carol, OpContribute, ContributePayload{Amount: 40}))
	require.NoError(t, err)
	assert.Equal(t, uint64(40), cv.TotalContributions)

	sub, err := h.bus.StreamRead(ctx, EventLogStream, "0", 10)
	require.NoError(t, err)
	assert.Len(t, sub, 2)
}

func TestResentEnvelopeIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	carol := h.viewer(100)

	_, err := h.svc.InitializeCommunityVault(ctx, h.sign(h.creator, OpInitializeCommunityVault, CommunityPayload{Mint: testMint}))
	require.NoError(t, err)

	env := h.sign(carol, OpContribute, ContributePayload{Amount: 40})
	cv, err := h.svc.Contribute(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), cv.TotalContributions)

	for i := 0; i < 2; i++ {
		_, err = h.svc.Contribute(ctx, env)
		assert.ErrorIs(t, err, domain.ErrEnvelopeReused)
	}
	acct, err := h.eng.TokenAccount(ctx, address.TokenAccount(testMint, carol.Identity()))
	require.NoError(t, err)
	assert.Equal(t, uint64(60), acct.Balance)

	// A fresh nonce makes an identical contribution a new request.
	cv, err = h.svc.Contribute(ctx, h.sign(carol, OpContribute, ContributePayload{Amount: 40, Nonce: "2"}))
	require.NoError(t, err)
	assert.Equal(t, uint64(80), cv.TotalContributions)
}

func TestRejectedEnvelopeCanBeRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stream := h.openStream()
	alice := h.viewer(100)

	_, err := h.svc.SubmitPrediction(ctx, stream, h.sign(alice, OpSubmitPrediction,
		PredictionPayload{Stream: stream, Choice: 0, Amount: 100}))
	require.NoError(t, err)

	resolve := h.sign(h.creator, OpResolvePrediction, ResolvePayload{Stream: stream, WinningChoice: 0})
	_, err = h.svc.ResolvePrediction(ctx, stream, resolve)
	require.ErrorIs(t, err, domain.ErrStreamStillActive)

	_, err = h.svc.EndStream(ctx, stream, h.sign(h.creator, OpEndStream, StreamPayload{Stream: stream}))
	require.NoError(t, err)
	st, err := h.svc.ResolvePrediction(ctx, stream, resolve)
	require.NoError(t, err)
	assert.True(t, st.IsResolved)

	_, err = h.svc.ResolvePrediction(ctx, stream, resolve)
	assert.ErrorIs(t, err, domain.ErrEnvelopeReused)
}
