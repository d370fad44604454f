package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cyphercast/internal/address"
	"github.com/alanyoungcy/cyphercast/internal/crypto"
	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/engine"
	"github.com/alanyoungcy/cyphercast/internal/metrics"
)

const (
	lockBackoffMin = 5 * time.Millisecond
	lockBackoffMax = 100 * time.Millisecond
	communityLock  = "community"
)

// Verifier authenticates a signed envelope for op and returns its signer.
type Verifier interface {
	Verify(op string, env crypto.Envelope) (domain.Address, error)
}

// StreamServiceConfig tunes locking.
type StreamServiceConfig struct {
	// LockTTL bounds how long a crashed holder can block a stream.
	LockTTL time.Duration
	// LockWait is how long an operation retries a held lock before failing.
	LockWait time.Duration
}

// StreamService authenticates operations, serializes writers per stream and
// runs them on the engine.
type StreamService struct {
	engine   *engine.Engine
	verifier Verifier
	locks    domain.LockManager
	cache    domain.StreamCache
	metrics  *metrics.Collector
	cfg      StreamServiceConfig
	logger   *slog.Logger
}

// NewStreamService creates a StreamService. cache and m may be nil.
func NewStreamService(
	eng *engine.Engine,
	verifier Verifier,
	locks domain.LockManager,
	cache domain.StreamCache,
	m *metrics.Collector,
	cfg StreamServiceConfig,
	logger *slog.Logger,
) *StreamService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Second
	}
	return &StreamService{
		engine:   eng,
		verifier: verifier,
		locks:    locks,
		cache:    cache,
		metrics:  m,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "stream_service")),
	}
}

// lock acquires key, retrying with backoff until LockWait elapses.
func (s *StreamService) lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	deadline := start.Add(s.cfg.LockWait)
	backoff := lockBackoffMin
	for {
		unlock, err := s.locks.Acquire(ctx, key, s.cfg.LockTTL)
		if err == nil {
			if s.metrics != nil {
				s.metrics.ObserveLockWait(time.Since(start))
			}
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("stream_service: lock %s: %w", key, err)
		}
		if time.Now().Add(backoff).After(deadline) {
			return nil, fmt.Errorf("stream_service: lock %s: %w", key, err)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, lockBackoffMax)
	}
}

// execute verifies env for op, locks key(signer) and runs fn at most once
// per envelope.
func (s *StreamService) execute(
	ctx context.Context,
	op string,
	env crypto.Envelope,
	key func(signer domain.Address) (string, error),
	fn func(signer domain.Address) error,
) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = domain.CodeOf(err)
			s.logger.InfoContext(ctx, "stream_service: operation rejected",
				slog.String("op", op),
				slog.String("code", result),
				slog.String("error", err.Error()),
			)
		}
		if s.metrics != nil {
			s.metrics.ObserveOp(op, result, time.Since(start))
		}
	}()

	signer, err := s.verifier.Verify(op, env)
	if err != nil {
		return err
	}
	lockKey, err := key(signer)
	if err != nil {
		return err
	}
	unlock, err := s.lock(ctx, lockKey)
	if err != nil {
		return err
	}
	defer unlock()

	release, err := s.claimEnvelope(ctx, signer, env)
	if err != nil {
		return err
	}
	if err := fn(signer); err != nil {
		release()
		return err
	}
	s.logger.DebugContext(ctx, "stream_service: operation applied",
		slog.String("op", op),
		slog.String("signer", signer.Hex()),
	)
	return nil
}

// claimEnvelope marks env as applied for signer until it expires. A second
// claim inside that window fails with ErrEnvelopeReused. The returned func
// frees the claim so a rejected operation can be retried.
func (s *StreamService) claimEnvelope(ctx context.Context, signer domain.Address, env crypto.Envelope) (func(), error) {
	ttl := time.Until(time.Unix(env.ExpiresAt, 0)) + time.Second
	if ttl < time.Second {
		ttl = time.Second
	}
	key := envelopeKey(signer, env)
	release, err := s.locks.Acquire(ctx, key, ttl)
	switch {
	case err == nil:
		return release, nil
	case errors.Is(err, domain.ErrLockHeld):
		return nil, domain.ErrEnvelopeReused
	default:
		return nil, fmt.Errorf("stream_service: claim envelope: %w", err)
	}
}

func envelopeKey(signer domain.Address, env crypto.Envelope) string {
	return "envelope:" + signer.Hex() + ":" + hex.EncodeToString(crypto.Digest(env.Op, env.Payload, env.ExpiresAt))
}

func streamLock(stream domain.Address) string { return "stream:" + stream.Hex() }

// boundStream decodes a payload that names a stream and checks it against
// the addressed stream.
func boundStream(env crypto.Envelope, target domain.Address, v interface{ stream() domain.Address }) func(domain.Address) (string, error) {
	return func(domain.Address) (string, error) {
		if err := decodePayload(env.Payload, v); err != nil {
			return "", err
		}
		if v.stream() != target {
			return "", errStreamMismatch
		}
		return streamLock(target), nil
	}
}

func (p *StreamPayload) stream() domain.Address     { return p.Stream }
func (p *ResolvePayload) stream() domain.Address    { return p.Stream }
func (p *VaultPayload) stream() domain.Address      { return p.Stream }
func (p *PredictionPayload) stream() domain.Address { return p.Stream }

func (s *StreamService) invalidate(ctx context.Context, stream domain.Address) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, stream); err != nil {
		s.logger.WarnContext(ctx, "stream_service: cache invalidate failed",
			slog.String("stream", stream.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// CreateStream opens a stream for the envelope signer.
func (s *StreamService) CreateStream(ctx context.Context, env crypto.Envelope) (domain.Stream, error) {
	var p CreateStreamPayload
	var out domain.Stream
	err := s.execute(ctx, OpCreateStream, env,
		func(signer domain.Address) (string, error) {
			if err := decodePayload(env.Payload, &p); err != nil {
				return "", err
			}
			return streamLock(address.Stream(signer, p.StreamID)), nil
		},
		func(signer domain.Address) error {
			st, err := s.engine.CreateStream(ctx, signer, p)
			out = st
			return err
		})
	return out, err
}

// ActivateStream commits the configuration hash of stream.
func (s *StreamService) ActivateStream(ctx context.Context, stream domain.Address, env crypto.Envelope) (domain.Stream, error) {
	return s.lifecycle(ctx, OpActivateStream, stream, env, s.engine.ActivateStream)
}

// EndStream closes stream to further activity.
func (s *StreamService) EndStream(ctx context.Context, stream domain.Address, env crypto.Envelope) (domain.Stream, error) {
	return s.lifecycle(ctx, OpEndStream, stream, env, s.engine.EndStream)
}

// CancelStream cancels stream and opens refunds.
func (s *StreamService) CancelStream(ctx context.Context, stream domain.Address, env crypto.Envelope) (domain.Stream, error) {
	return s.lifecycle(ctx, OpCancelStream, stream, env, s.engine.CancelStream)
}

func (s *StreamService) lifecycle(
	ctx context.Context,
	op string,
	stream domain.Address,
	env crypto.Envelope,
	apply func(ctx context.Context, caller, stream domain.Address) (domain.Stream, error),
) (domain.Stream, error) {
	var p StreamPayload
	var out domain.Stream
	err := s.execute(ctx, op, env, boundStream(env, stream, &p), func(signer domain.Address) error {
		st, err := apply(ctx, signer, stream)
		out = st
		return err
	})
	if err == nil {
		s.invalidate(ctx, stream)
	}
	return out, err
}

// ResolvePrediction fixes the winning choice and pays the creator tip.
func (s *StreamService) ResolvePrediction(ctx context.Context, stream domain.Address, env crypto.Envelope) (domain.Stream, error) {
	var p ResolvePayload
	var out domain.Stream
	err := s.execute(ctx, OpResolvePrediction, env, boundStream(env, stream, &p), func(signer domain.Address) error {
		st, err := s.engine.ResolvePrediction(ctx, signer, stream, p.WinningChoice)
		out = st
		return err
	})
	if err == nil {
		s.invalidate(ctx, stream)
		if s.metrics != nil {
			s.metrics.Released("tip", out.TipAmount)
		}
	}
	return out, err
}

// InitializeTokenVault creates the escrow vault of stream.
func (s *StreamService) InitializeTokenVault(ctx context.Context, stream domain.Address, env crypto.Envelope) (domain.TokenVault, error) {
	var p VaultPayload
	var out domain.TokenVault
	err := s.execute(ctx, OpInitializeTokenVault, env, boundStream(env, stream, &p), func(signer domain.Address) error {
		v, err := s.engine.InitializeTokenVault(ctx, signer, stream, p.Mint)
		out = v
		return err
	})
	return out, err
}

// JoinStream registers the signer as a participant of stream.
func (s *StreamService) JoinStream(ctx context.Context, stream domain.Address, env crypto.Envelope) (domain.Participant, error) {
	var p StreamPayload
	var out domain.Participant
	err := s.execute(ctx, OpJoinStream, env, boundStream(env, stream, &p), func(signer domain.Address) error {
		part, err := s.engine.JoinStream(ctx, signer, stream)
		out = part
		return err
	})
	return out, err
}

// SubmitPrediction stakes the signer's tokens on a choice.
func (s *StreamService) SubmitPrediction(ctx context.Context, stream domain.Address, env crypto.Envelope) (domain.Prediction, error) {
	var p PredictionPayload
	var out domain.Prediction
	err := s.execute(ctx, OpSubmitPrediction, env, boundStream(env, stream, &p), func(signer domain.Address) error {
		pred, err := s.engine.SubmitPrediction(ctx, signer, stream, p.Choice, p.Amount)
		out = pred
		return err
	})
	if err == nil {
		s.invalidate(ctx, stream)
		if s.metrics != nil {
			s.metrics.Staked(out.Amount)
		}
	}
	return out, err
}

// ClaimReward pays the signer's share of a resolved stream.
func (s *StreamService) ClaimReward(ctx context.Context, stream domain.Address, env crypto.Envelope) (engine.Claim, error) {
	return s.claim(ctx, OpClaimReward, "reward", stream, env, s.engine.ClaimReward)
}

// ClaimRefund returns the signer's stake from a canceled stream.
func (s *StreamService) ClaimRefund(ctx context.Context, stream domain.Address, env crypto.Envelope) (engine.Claim, error) {
	return s.claim(ctx, OpClaimRefund, "refund", stream, env, s.engine.ClaimRefund)
}

func (s *StreamService) claim(
	ctx context.Context,
	op, reason string,
	stream domain.Address,
	env crypto.Envelope,
	apply func(ctx context.Context, viewer, stream domain.Address) (engine.Claim, error),
) (engine.Claim, error) {
	var p StreamPayload
	var out engine.Claim
	err := s.execute(ctx, op, env, boundStream(env, stream, &p), func(signer domain.Address) error {
		c, err := apply(ctx, signer, stream)
		out = c
		return err
	})
	if err == nil && s.metrics != nil {
		s.metrics.Released(reason, out.Amount)
	}
	return out, err
}

// InitializeCommunityVault creates the community pool with the signer as
// authority.
func (s *StreamService) InitializeCommunityVault(ctx context.Context, env crypto.Envelope) (domain.CommunityVault, error) {
	var p CommunityPayload
	var out domain.CommunityVault
	err := s.execute(ctx, OpInitializeCommunityVault, env,
		func(domain.Address) (string, error) {
			return communityLock, decodePayload(env.Payload, &p)
		},
		func(signer domain.Address) error {
			v, err := s.engine.InitializeCommunityVault(ctx, signer, p.Mint)
			out = v
			return err
		})
	return out, err
}

// Contribute moves the signer's tokens into the community pool.
func (s *StreamService) Contribute(ctx context.Context, env crypto.Envelope) (domain.CommunityVault, error) {
	var p ContributePayload
	var out domain.CommunityVault
	err := s.execute(ctx, OpContribute, env,
		func(domain.Address) (string, error) {
			return communityLock, decodePayload(env.Payload, &p)
		},
		func(signer domain.Address) error {
			v, err := s.engine.Contribute(ctx, signer, p.Amount)
			out = v
			return err
		})
	return out, err
}

// Stream returns a stream snapshot, served from the cache when possible.
func (s *StreamService) Stream(ctx context.Context, addr domain.Address) (domain.Stream, error) {
	if s.cache == nil {
		return s.engine.Stream(ctx, addr)
	}
	if st, err := s.cache.Get(ctx, addr); err == nil {
		return st, nil
	}

	// Fill the cache only while no writer holds the stream, so a snapshot
	// read before a commit is never stored after that commit's invalidation.
	unlock, lockErr := s.locks.Acquire(ctx, streamLock(addr), s.cfg.LockTTL)
	if lockErr == nil {
		defer unlock()
	}
	st, err := s.engine.Stream(ctx, addr)
	if err != nil {
		return domain.Stream{}, err
	}
	if lockErr == nil {
		if err := s.cache.Set(ctx, st); err != nil {
			s.logger.WarnContext(ctx, "stream_service: cache set failed",
				slog.String("stream", addr.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return st, nil
}

// Engine exposes the underlying engine for read-only queries.
func (s *StreamService) Engine() *engine.Engine { return s.engine }
