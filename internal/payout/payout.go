// Package payout computes tips and proportional rewards. Every product is
// formed in 256-bit arithmetic before the truncating division, so no input
// combination of uint64 values can overflow the intermediate.
package payout

import (
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

const bpsDenominator = 10_000

// Tip returns floor(deposited * tipBps / 10000). tipBps above 10000 is
// rejected so the tip can never exceed the deposit.
func Tip(deposited uint64, tipBps uint16) (uint64, error) {
	if tipBps > domain.MaxTipBps {
		return 0, domain.ErrInvalidTipBps
	}
	return mulDiv(deposited, uint64(tipBps), bpsDenominator)
}

// Distributable is the pool left for winners once the tip is taken.
func Distributable(deposited, tip uint64) (uint64, error) {
	if tip > deposited {
		return 0, domain.ErrOverflow
	}
	return deposited - tip, nil
}

// Reward returns floor(distributable * stake / winnerTotal).
func Reward(distributable, stake, winnerTotal uint64) (uint64, error) {
	if winnerTotal == 0 {
		return 0, domain.ErrNoWinningStake
	}
	return mulDiv(distributable, stake, winnerTotal)
}

func mulDiv(a, b, d uint64) (uint64, error) {
	x := uint256.NewInt(a)
	x.Mul(x, uint256.NewInt(b))
	x.Div(x, uint256.NewInt(d))
	if !x.IsUint64() {
		return 0, domain.ErrOverflow
	}
	return x.Uint64(), nil
}

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, domain.ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrOverflow when b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, domain.ErrOverflow
	}
	return a - b, nil
}
