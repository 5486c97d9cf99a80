package math

import (
	"math/big"

	"perpcore/internal/perperr"
)

// Position sizes are signed 128-bit on the wire and in the Position record.
// Go has no native i128, so sizes travel as *big.Int and are range-checked
// at every boundary.

var (
	i128Max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	i128Min = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	two128  = new(big.Int).Lsh(big.NewInt(1), 128)
)

// FitsI128 reports whether v is representable as a signed 128-bit integer.
func FitsI128(v *big.Int) bool {
	return v.Cmp(i128Min) >= 0 && v.Cmp(i128Max) <= 0
}

// DecodeI128LE interprets b (exactly 16 bytes, little-endian two's
// complement) as a signed 128-bit integer.
func DecodeI128LE(b []byte) (*big.Int, error) {
	if len(b) != 16 {
		return nil, perperr.ErrInvalidLayout
	}
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = b[15-i]
	}
	v := new(big.Int).SetBytes(be)
	if be[0]&0x80 != 0 {
		v.Sub(v, two128)
	}
	return v, nil
}

// EncodeI128LE writes v into dst (exactly 16 bytes, little-endian two's
// complement). v must fit in 128 bits.
func EncodeI128LE(dst []byte, v *big.Int) error {
	if len(dst) != 16 {
		return perperr.ErrInvalidLayout
	}
	if !FitsI128(v) {
		return perperr.ErrArithmeticOverflow
	}
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, two128)
	}
	be := u.FillBytes(make([]byte, 16))
	for i := 0; i < 16; i++ {
		dst[i] = be[15-i]
	}
	return nil
}

// CheckedAddI128 returns a+b, failing if the sum leaves the i128 range.
func CheckedAddI128(a, b *big.Int) (*big.Int, error) {
	sum := new(big.Int).Add(a, b)
	if !FitsI128(sum) {
		return nil, perperr.ErrArithmeticOverflow
	}
	return sum, nil
}

// AbsU64 returns |v| as a uint64, failing if the magnitude exceeds 64 bits.
func AbsU64(v *big.Int) (uint64, error) {
	abs := new(big.Int).Abs(v)
	if !abs.IsUint64() {
		return 0, perperr.ErrArithmeticOverflow
	}
	return abs.Uint64(), nil
}
