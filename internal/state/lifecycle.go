package state

import (
	"math/big"

	fpmath "perpcore/internal/math"
)

// ApplyDelta runs the position state machine for one signed size delta at
// the current oracle price. The caller has already passed the risk gate and
// rejected zero deltas; this function only mutates.
//
// Transitions:
//   - inactive (absent or previously flattened): fresh open, entry price is
//     the current price, margin is the deposit.
//   - same direction: sizes accumulate and the entry price becomes the
//     size-weighted average of both contributions.
//   - opposite direction: sizes net. Netting to exactly zero flattens the
//     position (inactive, entry price left inert). A preserved sign is a
//     partial close and keeps the entry price. A flipped sign reverses the
//     position and resets the entry price to the current price.
//
// Margin accumulates additively in every branch except fresh open; no margin
// is released on partial close here.
func ApplyDelta(p *Position, delta *big.Int, price uint64, marginDeposit uint64, now int64) error {
	if !p.IsActive {
		p.Size = new(big.Int).Set(delta)
		p.EntryPrice = price
		p.Margin = marginDeposit
		p.IsActive = true
		p.LastFundingSettlement = now
		return nil
	}

	oldSize := p.Size
	newSize, err := fpmath.CheckedAddI128(oldSize, delta)
	if err != nil {
		return err
	}

	sameDirection := (oldSize.Sign() > 0 && delta.Sign() > 0) ||
		(oldSize.Sign() < 0 && delta.Sign() < 0)

	if sameDirection {
		entry, err := fpmath.WeightedEntryPrice(oldSize, p.EntryPrice, delta, price, newSize)
		if err != nil {
			return err
		}
		p.EntryPrice = entry
		p.Size = newSize
	} else {
		p.Size = newSize

		switch {
		case newSize.Sign() == 0:
			p.IsActive = false
		case oldSize.Sign() != newSize.Sign():
			// Reversed through zero: the surviving exposure opened at the
			// current price.
			p.EntryPrice = price
		}
	}

	margin, err := fpmath.CheckedAddU64(p.Margin, marginDeposit)
	if err != nil {
		return err
	}
	p.Margin = margin

	return nil
}
