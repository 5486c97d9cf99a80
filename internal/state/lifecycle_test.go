package state_test

import (
	"math/big"
	"testing"

	"perpcore/internal/state"
)

const priceScale = 100_000_000

func newFlatPosition() *state.Position {
	return &state.Position{Size: big.NewInt(0)}
}

func TestApplyDelta_FirstOpen(t *testing.T) {
	p := newFlatPosition()

	err := state.ApplyDelta(p, big.NewInt(10), 20*priceScale, 20*priceScale, 1_700_000_000)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if p.Size.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("size: got %s, want 10", p.Size)
	}
	if p.EntryPrice != 20*priceScale {
		t.Errorf("entry: got %d", p.EntryPrice)
	}
	if p.Margin != 20*priceScale {
		t.Errorf("margin: got %d", p.Margin)
	}
	if !p.IsActive {
		t.Error("position should be active")
	}
	if p.LastFundingSettlement != 1_700_000_000 {
		t.Errorf("funding timestamp: got %d", p.LastFundingSettlement)
	}
}

func TestApplyDelta_SameDirectionMerge(t *testing.T) {
	// Scenario: open long 10 @ $20, add 5 @ $24 -> 15 @ $21.33
	p := newFlatPosition()
	if err := state.ApplyDelta(p, big.NewInt(10), 20*priceScale, 200, 0); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := state.ApplyDelta(p, big.NewInt(5), 24*priceScale, 100, 0); err != nil {
		t.Fatalf("merge: %v", err)
	}

	if p.Size.Cmp(big.NewInt(15)) != 0 {
		t.Errorf("size: got %s, want 15", p.Size)
	}
	want := uint64((10*20*priceScale + 5*24*priceScale) / 15)
	if p.EntryPrice != want {
		t.Errorf("entry: got %d, want %d", p.EntryPrice, want)
	}
	if p.Margin != 300 {
		t.Errorf("margin: got %d, want 300", p.Margin)
	}
}

func TestApplyDelta_ShortMerge(t *testing.T) {
	p := newFlatPosition()
	if err := state.ApplyDelta(p, big.NewInt(-10), 20*priceScale, 200, 0); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := state.ApplyDelta(p, big.NewInt(-5), 24*priceScale, 100, 0); err != nil {
		t.Fatalf("merge: %v", err)
	}

	if p.Size.Cmp(big.NewInt(-15)) != 0 {
		t.Errorf("size: got %s, want -15", p.Size)
	}
	want := uint64((10*20*priceScale + 5*24*priceScale) / 15)
	if p.EntryPrice != want {
		t.Errorf("entry: got %d, want %d", p.EntryPrice, want)
	}
}

func TestApplyDelta_PartialClose(t *testing.T) {
	p := newFlatPosition()
	if err := state.ApplyDelta(p, big.NewInt(10), 20*priceScale, 200, 0); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := state.ApplyDelta(p, big.NewInt(-4), 30*priceScale, 0, 0); err != nil {
		t.Fatalf("partial close: %v", err)
	}

	if p.Size.Cmp(big.NewInt(6)) != 0 {
		t.Errorf("size: got %s, want 6", p.Size)
	}
	// Sign preserved: entry price unchanged.
	if p.EntryPrice != 20*priceScale {
		t.Errorf("entry should be unchanged: got %d", p.EntryPrice)
	}
	if !p.IsActive {
		t.Error("position should stay active")
	}
}

func TestApplyDelta_NetToZero(t *testing.T) {
	// Opening S then exactly -S always flattens, regardless of price moves.
	p := newFlatPosition()
	if err := state.ApplyDelta(p, big.NewInt(10), 20*priceScale, 200, 0); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := state.ApplyDelta(p, big.NewInt(-10), 55*priceScale, 0, 0); err != nil {
		t.Fatalf("flatten: %v", err)
	}

	if p.Size.Sign() != 0 {
		t.Errorf("size: got %s, want 0", p.Size)
	}
	if p.IsActive {
		t.Error("flattened position must be inactive")
	}
	// Entry price left inert.
	if p.EntryPrice != 20*priceScale {
		t.Errorf("entry should be inert: got %d", p.EntryPrice)
	}
}

func TestApplyDelta_FlipResetsEntry(t *testing.T) {
	// Scenario: long 10, opposite delta -15 -> short 5 at the current price.
	p := newFlatPosition()
	if err := state.ApplyDelta(p, big.NewInt(10), 20*priceScale, 200, 0); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := state.ApplyDelta(p, big.NewInt(-15), 26*priceScale, 50, 0); err != nil {
		t.Fatalf("flip: %v", err)
	}

	if p.Size.Cmp(big.NewInt(-5)) != 0 {
		t.Errorf("size: got %s, want -5", p.Size)
	}
	if p.EntryPrice != 26*priceScale {
		t.Errorf("entry should reset to flip price: got %d", p.EntryPrice)
	}
	if !p.IsActive {
		t.Error("flipped position stays active")
	}
	if p.Margin != 250 {
		t.Errorf("margin accumulates: got %d, want 250", p.Margin)
	}
}

func TestApplyDelta_ReopenAfterFlatten(t *testing.T) {
	p := newFlatPosition()
	if err := state.ApplyDelta(p, big.NewInt(10), 20*priceScale, 200, 100); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := state.ApplyDelta(p, big.NewInt(-10), 22*priceScale, 0, 100); err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if err := state.ApplyDelta(p, big.NewInt(-3), 25*priceScale, 75, 200); err != nil {
		t.Fatalf("reopen: %v", err)
	}

	if p.Size.Cmp(big.NewInt(-3)) != 0 {
		t.Errorf("size: got %s, want -3", p.Size)
	}
	if p.EntryPrice != 25*priceScale {
		t.Errorf("entry resets on reopen: got %d", p.EntryPrice)
	}
	// Reopen replaces margin rather than accumulating the stale value.
	if p.Margin != 75 {
		t.Errorf("margin: got %d, want 75", p.Margin)
	}
	if p.LastFundingSettlement != 200 {
		t.Errorf("funding timestamp: got %d", p.LastFundingSettlement)
	}
}
