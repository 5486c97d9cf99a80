// Package math implements the engine's overflow-checked fixed-point
// arithmetic. Funds are at stake: there is no silent wraparound anywhere in
// this package, every failing operation returns ErrArithmeticOverflow.
package math

import (
	"math/big"
	"sync"

	"perpcore/internal/perperr"
)

// BpsDenominator is the basis-point divisor for margin and fee rates.
const BpsDenominator = 10_000

// int128Pool recycles big.Ints used for 128-bit intermediates.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// CheckedAddU64 returns a+b or ErrArithmeticOverflow.
func CheckedAddU64(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, perperr.ErrArithmeticOverflow
	}
	return sum, nil
}

// CheckedSubU64 returns a-b or ErrArithmeticOverflow on underflow.
func CheckedSubU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, perperr.ErrArithmeticOverflow
	}
	return a - b, nil
}

// CheckedMulU64 returns a*b or ErrArithmeticOverflow.
func CheckedMulU64(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	prod := a * b
	if prod/a != b {
		return 0, perperr.ErrArithmeticOverflow
	}
	return prod, nil
}

// MulDivBpsU64 computes v * bps / 10000 with a 128-bit intermediate, so the
// product never wraps even when v*bps exceeds 64 bits. The quotient must
// still fit in a uint64. Division truncates toward zero.
func MulDivBpsU64(v, bps uint64) (uint64, error) {
	num := getInt128()
	defer putInt128(num)

	num.SetUint64(v)
	bb := getInt128()
	bb.SetUint64(bps)
	num.Mul(num, bb)
	putInt128(bb)

	num.Div(num, big.NewInt(BpsDenominator))
	if !num.IsUint64() {
		return 0, perperr.ErrArithmeticOverflow
	}
	return num.Uint64(), nil
}
