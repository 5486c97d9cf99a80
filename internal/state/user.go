package state

import (
	"encoding/binary"

	"perpcore/internal/keys"
	fpmath "perpcore/internal/math"
	"perpcore/internal/perperr"
)

// MaxOpenPositions is the per-user position ceiling. The registry is a
// fixed-capacity array with the zero address as the empty-slot sentinel;
// it never grows.
const MaxOpenPositions = 10

// UserMargin is a trader's aggregate margin account: one per trader address,
// lazily created on the first position open.
type UserMargin struct {
	Owner         keys.Address
	MarginBalance uint64
	OpenPositions [MaxOpenPositions]keys.Address
}

// UserMarginSize is the encoded size of a UserMargin record.
const UserMarginSize = 32 + 8 + MaxOpenPositions*32

// UnmarshalUserMargin decodes a UserMargin from a fixed-layout blob.
func UnmarshalUserMargin(b []byte) (*UserMargin, error) {
	if len(b) < UserMarginSize {
		return nil, perperr.ErrInvalidLayout
	}

	u := &UserMargin{}
	copy(u.Owner[:], b[0:32])
	u.MarginBalance = binary.LittleEndian.Uint64(b[32:40])
	for i := 0; i < MaxOpenPositions; i++ {
		off := 40 + i*32
		copy(u.OpenPositions[i][:], b[off:off+32])
	}
	return u, nil
}

// Marshal encodes the record into a fresh UserMarginSize blob.
func (u *UserMargin) Marshal() []byte {
	b := make([]byte, UserMarginSize)
	copy(b[0:32], u.Owner[:])
	binary.LittleEndian.PutUint64(b[32:40], u.MarginBalance)
	for i := 0; i < MaxOpenPositions; i++ {
		off := 40 + i*32
		copy(b[off:off+32], u.OpenPositions[i][:])
	}
	return b
}

// Credit adds amount to the aggregate margin balance.
func (u *UserMargin) Credit(amount uint64) error {
	balance, err := fpmath.CheckedAddU64(u.MarginBalance, amount)
	if err != nil {
		return err
	}
	u.MarginBalance = balance
	return nil
}

// DeductFee removes the trading fee from the aggregate margin balance,
// failing with ErrInsufficientBalance if it cannot be covered.
func (u *UserMargin) DeductFee(fee uint64) error {
	if u.MarginBalance < fee {
		return perperr.ErrInsufficientBalance
	}
	u.MarginBalance -= fee
	return nil
}

// RegisterPosition inserts addr into the first empty registry slot.
// Insertion is skipped if addr is already present. When no empty slot
// exists the user has hit the protocol's position ceiling and the call
// fails with ErrRegistryFull.
func (u *UserMargin) RegisterPosition(addr keys.Address) error {
	for _, existing := range u.OpenPositions {
		if existing == addr {
			return nil
		}
	}
	for i := range u.OpenPositions {
		if u.OpenPositions[i].IsZero() {
			u.OpenPositions[i] = addr
			return nil
		}
	}
	return perperr.ErrRegistryFull
}
