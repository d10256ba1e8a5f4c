// Package pricing computes the decaying Dutch auction price for a vault
// under liquidation. The price is the WAD-scaled proportion of collateral
// handed out per unit of debt repaid; it starts at a discount and rises
// linearly to the vault's full collateral-to-debt ratio over the auction
// duration.
package pricing

import (
	"errors"
	"math/big"

	fpmath "AuctionLedger/internal/math"
)

var (
	ErrNoDebt       = errors.New("pricing: vault has no debt")
	ErrInvalidOffer = errors.New("pricing: initial offer above 1.0")
)

// TimeFactor returns min(elapsed, duration)/duration as a WAD fraction.
// A zero duration saturates to 1.0: the auction offers full proportion
// immediately rather than dividing by zero.
func TimeFactor(duration, elapsed uint32) int64 {
	if duration == 0 || elapsed >= duration {
		return fpmath.WAD
	}
	// elapsed < duration <= MaxUint32, both fit int64; rounds down.
	f, err := fpmath.MulDiv(int64(elapsed), fpmath.WAD, int64(duration), fpmath.RoundDown)
	if err != nil {
		// Unreachable with uint32 inputs: elapsed*WAD < 2^32 * 2^60.
		return fpmath.WAD
	}
	return f
}

// Price returns the WAD-scaled collateral-per-debt price:
//
//	term1 = ink * WAD / art              (full proportion, rounds down)
//	term2 = offer + (1 - offer) * tf     (decay factor, rounds down)
//	price = term1 * term2 / WAD          (rounds down)
//
// The result is a big.Int because ink*WAD/art exceeds int64 for
// 18-decimal collateral amounts. Every step rounds down, so the price
// never exceeds the vault's collateral-to-debt ratio.
func Price(ink, art, initialOffer int64, duration, elapsed uint32) (*big.Int, error) {
	if art <= 0 {
		return nil, ErrNoDebt
	}
	if ink < 0 || initialOffer < 0 {
		return nil, fpmath.ErrNegative
	}
	if initialOffer > fpmath.WAD {
		return nil, ErrInvalidOffer
	}

	term1, err := fpmath.MulDivBig(big.NewInt(ink), fpmath.WadBig(), big.NewInt(art), fpmath.RoundDown)
	if err != nil {
		return nil, err
	}

	tf := TimeFactor(duration, elapsed)
	decay, err := fpmath.MulDiv(fpmath.WAD-initialOffer, tf, fpmath.WAD, fpmath.RoundDown)
	if err != nil {
		return nil, err
	}
	term2 := initialOffer + decay

	return fpmath.MulDivBig(term1, big.NewInt(term2), fpmath.WadBig(), fpmath.RoundDown)
}
