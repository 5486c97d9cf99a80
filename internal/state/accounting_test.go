package state_test

import (
	"errors"
	stdmath "math"
	"math/big"
	"testing"

	"perpcore/internal/perperr"
	"perpcore/internal/state"
)

// ============================================================================
// Test: market accounting
// ============================================================================

func TestApplyTradeDelta_Long(t *testing.T) {
	m := &state.Market{}

	if err := m.ApplyTradeDelta(big.NewInt(10), 500); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if m.OpenInterestLong != 10 {
		t.Errorf("OI long: got %d, want 10", m.OpenInterestLong)
	}
	if m.OpenInterestShort != 0 {
		t.Errorf("OI short: got %d, want 0", m.OpenInterestShort)
	}
	if m.TotalCollateral != 500 {
		t.Errorf("total collateral: got %d, want 500", m.TotalCollateral)
	}
}

func TestApplyTradeDelta_Short(t *testing.T) {
	m := &state.Market{}

	if err := m.ApplyTradeDelta(big.NewInt(-7), 300); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if m.OpenInterestShort != 7 {
		t.Errorf("OI short: got %d, want 7", m.OpenInterestShort)
	}
	if m.TotalCollateral != 300 {
		t.Errorf("total collateral: got %d, want 300", m.TotalCollateral)
	}
}

func TestApplyTradeDelta_CountsDeltaNotAbsoluteSize(t *testing.T) {
	// Two merges of 10 then 5 contribute 15 total, not 10+15.
	m := &state.Market{}

	if err := m.ApplyTradeDelta(big.NewInt(10), 100); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := m.ApplyTradeDelta(big.NewInt(5), 50); err != nil {
		t.Fatalf("second: %v", err)
	}

	if m.OpenInterestLong != 15 {
		t.Errorf("OI long: got %d, want 15", m.OpenInterestLong)
	}
	if m.TotalCollateral != 150 {
		t.Errorf("total collateral: got %d, want 150", m.TotalCollateral)
	}
}

func TestApplyTradeDelta_Overflow(t *testing.T) {
	m := &state.Market{OpenInterestLong: stdmath.MaxUint64}

	err := m.ApplyTradeDelta(big.NewInt(1), 0)
	if !errors.Is(err, perperr.ErrArithmeticOverflow) {
		t.Errorf("want ErrArithmeticOverflow, got %v", err)
	}
}

// ============================================================================
// Test: user registry
// ============================================================================

func TestRegisterPosition_FirstEmptySlot(t *testing.T) {
	u := &state.UserMargin{}
	u.OpenPositions[0] = addr(1)

	if err := u.RegisterPosition(addr(2)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.OpenPositions[1] != addr(2) {
		t.Errorf("slot 1: got %s", u.OpenPositions[1])
	}
}

func TestRegisterPosition_Idempotent(t *testing.T) {
	u := &state.UserMargin{}

	if err := u.RegisterPosition(addr(1)); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := u.RegisterPosition(addr(1)); err != nil {
		t.Fatalf("second: %v", err)
	}

	count := 0
	for _, p := range u.OpenPositions {
		if p == addr(1) {
			count++
		}
	}
	if count != 1 {
		t.Errorf("duplicate registry entries: %d", count)
	}
}

func TestRegisterPosition_Full(t *testing.T) {
	u := &state.UserMargin{}
	for i := 0; i < state.MaxOpenPositions; i++ {
		if err := u.RegisterPosition(addr(byte(i + 1))); err != nil {
			t.Fatalf("slot %d: %v", i, err)
		}
	}

	err := u.RegisterPosition(addr(99))
	if !errors.Is(err, perperr.ErrRegistryFull) {
		t.Errorf("want ErrRegistryFull, got %v", err)
	}
}

func TestDeductFee(t *testing.T) {
	u := &state.UserMargin{MarginBalance: 100}

	if err := u.DeductFee(30); err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if u.MarginBalance != 70 {
		t.Errorf("balance: got %d, want 70", u.MarginBalance)
	}

	err := u.DeductFee(71)
	if !errors.Is(err, perperr.ErrInsufficientBalance) {
		t.Errorf("want ErrInsufficientBalance, got %v", err)
	}
}
