package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/alanyoungcy/cyphercast/internal/address"
	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/payout"
	"github.com/alanyoungcy/cyphercast/internal/token"
)

// CreateStreamParams configures a new stream.
type CreateStreamParams struct {
	StreamID        uint64 `json:"stream_id"`
	Title           string `json:"title"`
	StartTime       int64  `json:"start_time"`
	LockOffsetSecs  uint32 `json:"lock_offset_secs"`
	GracePeriodSecs uint32 `json:"grace_period_secs"`
	TipBps          uint16 `json:"tip_bps"`
	Precision       uint8  `json:"precision"`
}

// Validate checks the configuration bounds.
func (p CreateStreamParams) Validate() error {
	switch {
	case len(p.Title) > domain.MaxTitleLen:
		return domain.ErrTitleTooLong
	case p.TipBps > domain.MaxTipBps:
		return domain.ErrInvalidTipBps
	case p.Precision > domain.MaxPrecision:
		return domain.ErrInvalidPrecision
	case p.StartTime > math.MaxInt64-int64(p.LockOffsetSecs):
		return domain.ErrOverflow
	}
	return nil
}

// CreateStream opens a stream owned by creator at its derived address.
func (e *Engine) CreateStream(ctx context.Context, creator domain.Address, p CreateStreamParams) (domain.Stream, error) {
	if err := p.Validate(); err != nil {
		return domain.Stream{}, err
	}
	var out domain.Stream
	err := e.run(ctx, func(o *op) error {
		s := domain.Stream{
			Address:         address.Stream(creator, p.StreamID),
			Creator:         creator,
			StreamID:        p.StreamID,
			Title:           p.Title,
			StartTime:       p.StartTime,
			LockOffsetSecs:  p.LockOffsetSecs,
			GracePeriodSecs: p.GracePeriodSecs,
			TipBps:          p.TipBps,
			Precision:       p.Precision,
			IsActive:        true,
		}
		if err := o.tx.CreateStream(s); err != nil {
			return fmt.Errorf("engine: create stream %d: %w", p.StreamID, err)
		}
		o.emit(domain.StreamEvent(domain.EventStreamCreated, s.Address))
		out = s
		return nil
	})
	return out, err
}

// ActivateStream freezes the configuration by committing its hash. It
// succeeds at most once per stream.
func (e *Engine) ActivateStream(ctx context.Context, caller, stream domain.Address) (domain.Stream, error) {
	var out domain.Stream
	err := e.run(ctx, func(o *op) error {
		s, err := loadStream(o.tx, stream)
		if err != nil {
			return err
		}
		if err := requireCreator(s, caller); err != nil {
			return err
		}
		switch {
		case s.IsCanceled():
			return domain.ErrStreamCanceled
		case s.IsResolved:
			return domain.ErrAlreadyResolved
		case s.IsActivated():
			return domain.ErrAlreadyActivated
		}
		s.ConfigHash = ConfigHash(s)
		if err := o.tx.PutStream(s); err != nil {
			return err
		}
		o.emit(domain.StreamEvent(domain.EventStreamActivated, s.Address))
		out = s
		return nil
	})
	return out, err
}

// EndStream closes an active stream to further predictions and records the
// end time.
func (e *Engine) EndStream(ctx context.Context, caller, stream domain.Address) (domain.Stream, error) {
	var out domain.Stream
	err := e.run(ctx, func(o *op) error {
		s, err := loadStream(o.tx, stream)
		if err != nil {
			return err
		}
		if err := requireCreator(s, caller); err != nil {
			return err
		}
		if !s.IsActive {
			return domain.ErrStreamNotActive
		}
		s.IsActive = false
		s.EndTime = o.now
		if err := o.tx.PutStream(s); err != nil {
			return err
		}
		o.emit(domain.StreamEvent(domain.EventStreamEnded, s.Address))
		out = s
		return nil
	})
	return out, err
}

// ResolvePrediction fixes the winning choice of an ended stream and pays
// the creator's tip out of the vault.
func (e *Engine) ResolvePrediction(ctx context.Context, caller, stream domain.Address, winningChoice uint8) (domain.Stream, error) {
	if winningChoice > domain.MaxChoices {
		return domain.Stream{}, domain.ErrInvalidChoice
	}
	var out domain.Stream
	err := e.run(ctx, func(o *op) error {
		s, err := loadStream(o.tx, stream)
		if err != nil {
			return err
		}
		if err := requireCreator(s, caller); err != nil {
			return err
		}
		switch {
		case s.IsCanceled():
			return domain.ErrStreamCanceled
		case s.IsResolved:
			return domain.ErrAlreadyResolved
		case s.IsActive:
			return domain.ErrStreamStillActive
		case s.TotalByChoice[winningChoice] == 0:
			return domain.ErrNoWinningStake
		}

		v, err := loadVault(o.tx, address.Vault(s.Address))
		if err != nil {
			return err
		}
		if s.TipAmount == 0 && s.TipBps > 0 {
			tip, err := payout.Tip(v.TotalDeposited, s.TipBps)
			if err != nil {
				return err
			}
			if tip > 0 {
				dst, err := token.Ensure(o.tx, v.Mint, s.Creator)
				if err != nil {
					return err
				}
				if err := release(o, &v, dst.Address, tip); err != nil {
					return err
				}
				s.TipAmount = tip
			}
		}

		s.IsResolved = true
		s.WinningChoice = winningChoice
		s.ResolvedAt = o.now
		if err := o.tx.PutStream(s); err != nil {
			return err
		}
		o.emit(domain.StreamResolved(s.Address, winningChoice, s.TipAmount))
		out = s
		return nil
	})
	return out, err
}

// CancelStream moves a stream that is not yet resolved into the refund
// path.
func (e *Engine) CancelStream(ctx context.Context, caller, stream domain.Address) (domain.Stream, error) {
	var out domain.Stream
	err := e.run(ctx, func(o *op) error {
		s, err := loadStream(o.tx, stream)
		if err != nil {
			return err
		}
		if err := requireCreator(s, caller); err != nil {
			return err
		}
		switch {
		case s.IsCanceled():
			return domain.ErrStreamCanceled
		case s.IsResolved:
			return domain.ErrAlreadyResolved
		}
		s.IsActive = false
		// A zero timestamp would read as "not canceled".
		s.CanceledAt = max(o.now, 1)
		if err := o.tx.PutStream(s); err != nil {
			return err
		}
		o.emit(domain.StreamEvent(domain.EventStreamCanceled, s.Address))
		out = s
		return nil
	})
	return out, err
}
