package state

import (
	"encoding/binary"
	"math/big"

	"perpcore/internal/keys"
	fpmath "perpcore/internal/math"
	"perpcore/internal/perperr"
)

// Direction classifies a position by the sign of its size.
type Direction int8

const (
	DirectionFlat Direction = iota
	DirectionLong
	DirectionShort
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "long"
	case DirectionShort:
		return "short"
	default:
		return "flat"
	}
}

// Position is one (trader, market) position record. It is created on the
// first open and then mutated in place; when the net size reaches zero it
// goes inactive but is never deleted, and a later open reuses the slot.
type Position struct {
	User   keys.Address
	Market keys.Address

	// Size is signed: positive long, negative short, magnitude in contracts.
	Size *big.Int

	EntryPrice uint64 // size-weighted average, oracle 1e8 scale
	Margin     uint64

	UnrealizedPnL         int64 // computed downstream, carried here
	FundingPayment        int64
	LastFundingSettlement int64

	IsActive bool
}

// PositionSize is the encoded size of a Position record.
const PositionSize = 32 + 32 + 16 + 8 + 8 + 8 + 8 + 8 + 1

// UnmarshalPosition decodes a Position from a fixed-layout blob.
func UnmarshalPosition(b []byte) (*Position, error) {
	if len(b) < PositionSize {
		return nil, perperr.ErrInvalidLayout
	}

	p := &Position{}
	copy(p.User[:], b[0:32])
	copy(p.Market[:], b[32:64])

	size, err := fpmath.DecodeI128LE(b[64:80])
	if err != nil {
		return nil, err
	}
	p.Size = size

	p.EntryPrice = binary.LittleEndian.Uint64(b[80:88])
	p.Margin = binary.LittleEndian.Uint64(b[88:96])
	p.UnrealizedPnL = int64(binary.LittleEndian.Uint64(b[96:104]))
	p.FundingPayment = int64(binary.LittleEndian.Uint64(b[104:112]))
	p.LastFundingSettlement = int64(binary.LittleEndian.Uint64(b[112:120]))
	p.IsActive = b[120] != 0

	return p, nil
}

// Marshal encodes the record into a fresh PositionSize blob.
func (p *Position) Marshal() ([]byte, error) {
	b := make([]byte, PositionSize)
	copy(b[0:32], p.User[:])
	copy(b[32:64], p.Market[:])

	size := p.Size
	if size == nil {
		size = big.NewInt(0)
	}
	if err := fpmath.EncodeI128LE(b[64:80], size); err != nil {
		return nil, err
	}

	binary.LittleEndian.PutUint64(b[80:88], p.EntryPrice)
	binary.LittleEndian.PutUint64(b[88:96], p.Margin)
	binary.LittleEndian.PutUint64(b[96:104], uint64(p.UnrealizedPnL))
	binary.LittleEndian.PutUint64(b[104:112], uint64(p.FundingPayment))
	binary.LittleEndian.PutUint64(b[112:120], uint64(p.LastFundingSettlement))
	if p.IsActive {
		b[120] = 1
	}

	return b, nil
}

// Direction returns the sign classification of the current size.
func (p *Position) Direction() Direction {
	if p.Size == nil {
		return DirectionFlat
	}
	switch p.Size.Sign() {
	case 1:
		return DirectionLong
	case -1:
		return DirectionShort
	default:
		return DirectionFlat
	}
}

// IsLong reports a strictly positive size.
func (p *Position) IsLong() bool { return p.Size != nil && p.Size.Sign() > 0 }

// IsShort reports a strictly negative size.
func (p *Position) IsShort() bool { return p.Size != nil && p.Size.Sign() < 0 }
