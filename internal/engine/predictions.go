package engine

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/cyphercast/internal/address"
	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/payout"
	"github.com/alanyoungcy/cyphercast/internal/token"
)

// Claim is the outcome of a reward or refund.
type Claim struct {
	Prediction domain.Prediction `json:"prediction"`
	Amount     uint64            `json:"amount"`
}

// SubmitPrediction stakes amount on choice for viewer. The stake moves into
// the vault, the stream aggregates grow, and the viewer's single prediction
// slot on the stream is filled.
func (e *Engine) SubmitPrediction(ctx context.Context, viewer, stream domain.Address, choice uint8, amount uint64) (domain.Prediction, error) {
	if choice > domain.MaxChoices {
		return domain.Prediction{}, domain.ErrInvalidChoice
	}
	if amount == 0 {
		return domain.Prediction{}, domain.ErrInvalidStake
	}
	var out domain.Prediction
	err := e.run(ctx, func(o *op) error {
		s, err := loadStream(o.tx, stream)
		if err != nil {
			return err
		}
		switch {
		case s.IsCanceled():
			return domain.ErrStreamCanceled
		case !s.IsActive:
			return domain.ErrStreamNotActive
		case o.now >= s.LockTime():
			return domain.ErrStreamLocked
		}
		v, err := loadVault(o.tx, address.Vault(s.Address))
		if err != nil {
			return err
		}

		totalStake, err := payout.CheckedAdd(s.TotalStake, amount)
		if err != nil {
			return err
		}
		choiceTotal, err := payout.CheckedAdd(s.TotalByChoice[choice], amount)
		if err != nil {
			return err
		}
		if err := deposit(o, &v, address.TokenAccount(v.Mint, viewer), viewer, amount); err != nil {
			return err
		}
		s.TotalStake = totalStake
		s.TotalByChoice[choice] = choiceTotal
		if err := o.tx.PutStream(s); err != nil {
			return err
		}

		p := domain.Prediction{
			Address:   address.Prediction(s.Address, viewer),
			Stream:    s.Address,
			Viewer:    viewer,
			Choice:    choice,
			Amount:    amount,
			Timestamp: o.now,
		}
		if err := o.tx.CreatePrediction(p); err != nil {
			return fmt.Errorf("engine: prediction %s: %w", p.Address, err)
		}
		o.emit(domain.PredictionSubmitted(s.Address, viewer, choice, amount))
		out = p
		return nil
	})
	return out, err
}

// loadOwnPrediction loads the prediction of viewer on stream and checks
// that the record really belongs to both.
func loadOwnPrediction(tx domain.Tx, stream, viewer domain.Address) (domain.Prediction, error) {
	addr := address.Prediction(stream, viewer)
	p, err := tx.Prediction(addr)
	if err != nil {
		return p, fmt.Errorf("engine: prediction %s: %w", addr, err)
	}
	if p.Viewer != viewer {
		return p, domain.ErrNotOwner
	}
	if p.Stream != stream {
		return p, domain.ErrWrongStream
	}
	return p, nil
}

// ClaimReward pays viewer's proportional share of the distributable pool
// of a resolved stream.
func (e *Engine) ClaimReward(ctx context.Context, viewer, stream domain.Address) (Claim, error) {
	var out Claim
	err := e.run(ctx, func(o *op) error {
		s, err := loadStream(o.tx, stream)
		if err != nil {
			return err
		}
		p, err := loadOwnPrediction(o.tx, s.Address, viewer)
		if err != nil {
			return err
		}
		switch {
		case s.IsCanceled():
			return domain.ErrStreamCanceled
		case !s.IsResolved:
			return domain.ErrNotResolved
		case p.RewardClaimed:
			return domain.ErrRewardClaimed
		case p.Refunded:
			return domain.ErrAlreadyRefunded
		case p.Choice != s.WinningChoice:
			return domain.ErrNotWinner
		}

		v, err := loadVault(o.tx, address.Vault(s.Address))
		if err != nil {
			return err
		}
		distributable, err := payout.Distributable(v.TotalDeposited, s.TipAmount)
		if err != nil {
			return err
		}
		reward, err := payout.Reward(distributable, p.Amount, s.TotalByChoice[s.WinningChoice])
		if err != nil {
			return err
		}
		dst, err := token.Ensure(o.tx, v.Mint, viewer)
		if err != nil {
			return err
		}
		if err := release(o, &v, dst.Address, reward); err != nil {
			return err
		}

		p.RewardClaimed = true
		if err := o.tx.PutPrediction(p); err != nil {
			return err
		}
		o.emit(domain.RewardClaimed(s.Address, viewer, reward))
		out = Claim{Prediction: p, Amount: reward}
		return nil
	})
	return out, err
}

// ClaimRefund returns viewer's full stake from a canceled stream.
func (e *Engine) ClaimRefund(ctx context.Context, viewer, stream domain.Address) (Claim, error) {
	var out Claim
	err := e.run(ctx, func(o *op) error {
		s, err := loadStream(o.tx, stream)
		if err != nil {
			return err
		}
		p, err := loadOwnPrediction(o.tx, s.Address, viewer)
		if err != nil {
			return err
		}
		switch {
		case !s.IsCanceled():
			return domain.ErrStreamNotCanceled
		case p.RewardClaimed:
			return domain.ErrRewardClaimed
		case p.Refunded:
			return domain.ErrAlreadyRefunded
		}

		v, err := loadVault(o.tx, address.Vault(s.Address))
		if err != nil {
			return err
		}
		dst, err := token.Ensure(o.tx, v.Mint, viewer)
		if err != nil {
			return err
		}
		if err := release(o, &v, dst.Address, p.Amount); err != nil {
			return err
		}

		p.Refunded = true
		if err := o.tx.PutPrediction(p); err != nil {
			return err
		}
		o.emit(domain.RefundClaimed(s.Address, viewer, p.Amount))
		out = Claim{Prediction: p, Amount: p.Amount}
		return nil
	})
	return out, err
}
