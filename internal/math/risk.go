package math

import (
	"math/big"

	"perpcore/internal/perperr"
)

// Risk calculations operate on unsigned 64-bit magnitudes; prices carry the
// oracle's fixed 1e8 scale. All helpers fail rather than wrap.

// Notional returns |size| * price.
func Notional(size *big.Int, price uint64) (uint64, error) {
	abs, err := AbsU64(size)
	if err != nil {
		return 0, err
	}
	return CheckedMulU64(abs, price)
}

// RequiredMargin returns notional * initialMarginBps / 10000.
// Division truncates toward zero.
func RequiredMargin(notional, initialMarginBps uint64) (uint64, error) {
	return MulDivBpsU64(notional, initialMarginBps)
}

// Leverage returns notional / margin as a plain multiple.
func Leverage(notional, margin uint64) (uint64, error) {
	if margin == 0 {
		return 0, perperr.ErrInvalidArgument
	}
	return notional / margin, nil
}

// TradingFee returns notional * feeBps / 10000.
func TradingFee(notional, feeBps uint64) (uint64, error) {
	return MulDivBpsU64(notional, feeBps)
}

// WeightedEntryPrice returns the size-weighted average entry price after a
// same-direction add:
//
//	(|oldSize|*oldEntry + |delta|*fillPrice) / |newSize|
//
// newSize must be non-zero. The intermediate sum uses 128-bit arithmetic;
// the quotient must fit back into a uint64.
func WeightedEntryPrice(oldSize *big.Int, oldEntry uint64, delta *big.Int, fillPrice uint64, newSize *big.Int) (uint64, error) {
	if newSize.Sign() == 0 {
		return 0, perperr.ErrInvalidArgument
	}

	oldAbs, err := AbsU64(oldSize)
	if err != nil {
		return 0, err
	}
	deltaAbs, err := AbsU64(delta)
	if err != nil {
		return 0, err
	}
	newAbs, err := AbsU64(newSize)
	if err != nil {
		return 0, err
	}

	oldNotional := getInt128()
	defer putInt128(oldNotional)
	oldNotional.SetUint64(oldAbs)
	oldNotional.Mul(oldNotional, new(big.Int).SetUint64(oldEntry))

	addNotional := getInt128()
	defer putInt128(addNotional)
	addNotional.SetUint64(deltaAbs)
	addNotional.Mul(addNotional, new(big.Int).SetUint64(fillPrice))

	oldNotional.Add(oldNotional, addNotional)
	oldNotional.Div(oldNotional, new(big.Int).SetUint64(newAbs))

	if !oldNotional.IsUint64() {
		return 0, perperr.ErrArithmeticOverflow
	}
	return oldNotional.Uint64(), nil
}
