package state_test

import (
	"errors"
	"math/big"
	"reflect"
	"testing"

	"perpcore/internal/keys"
	"perpcore/internal/perperr"
	"perpcore/internal/state"
)

func addr(fill byte) keys.Address {
	var a keys.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

// ============================================================================
// Test: Market codec
// ============================================================================

func TestMarketCodec_RoundTrip(t *testing.T) {
	m := &state.Market{
		IsInitialized:        true,
		MarketID:             66,
		Oracle:               addr(1),
		BaseOracle:           addr(2),
		CollateralMint:       addr(3),
		CollateralVault:      addr(4),
		InitialMarginBps:     1000,
		MaintenanceMarginBps: 500,
		MaxLeverage:          10,
		FeeBps:               10,
		FundingRate:          -42,
		LastFundingTime:      1_700_000_000,
		FundingInterval:      state.DefaultFundingInterval,
		OpenInterestLong:     123,
		OpenInterestShort:    456,
		TotalCollateral:      789,
		UnrealizedPnL:        big.NewInt(-1_000_000),
		Authority:            addr(5),
		Bump:                 254,
		VaultBump:            253,
	}
	copy(m.Symbol[:], "SOL-PERP")

	blob, err := m.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(blob) != state.MarketSize {
		t.Fatalf("blob size: got %d, want %d", len(blob), state.MarketSize)
	}

	back, err := state.UnmarshalMarket(blob)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(m, back) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, m)
	}
	if back.SymbolString() != "SOL-PERP" {
		t.Errorf("symbol: got %q", back.SymbolString())
	}
}

func TestMarketCodec_ShortBlob(t *testing.T) {
	_, err := state.UnmarshalMarket(make([]byte, state.MarketSize-1))
	if !errors.Is(err, perperr.ErrInvalidLayout) {
		t.Errorf("want ErrInvalidLayout, got %v", err)
	}
}

// ============================================================================
// Test: UserMargin codec
// ============================================================================

func TestUserMarginCodec_RoundTrip(t *testing.T) {
	u := &state.UserMargin{
		Owner:         addr(7),
		MarginBalance: 42_000_000,
	}
	u.OpenPositions[0] = addr(8)
	u.OpenPositions[3] = addr(9)

	back, err := state.UnmarshalUserMargin(u.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(u, back) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, u)
	}
}

func TestUserMarginCodec_ShortBlob(t *testing.T) {
	_, err := state.UnmarshalUserMargin(make([]byte, state.UserMarginSize-1))
	if !errors.Is(err, perperr.ErrInvalidLayout) {
		t.Errorf("want ErrInvalidLayout, got %v", err)
	}
}

// ============================================================================
// Test: Position codec
// ============================================================================

func TestPositionCodec_RoundTrip(t *testing.T) {
	p := &state.Position{
		User:                  addr(1),
		Market:                addr(2),
		Size:                  big.NewInt(-15),
		EntryPrice:            2_000_000_000,
		Margin:                20_000_000_000,
		UnrealizedPnL:         -5,
		FundingPayment:        7,
		LastFundingSettlement: 1_700_000_000,
		IsActive:              true,
	}

	blob, err := p.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := state.UnmarshalPosition(blob)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(p, back) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, p)
	}
}

func TestPositionCodec_ShortBlob(t *testing.T) {
	_, err := state.UnmarshalPosition(make([]byte, state.PositionSize-1))
	if !errors.Is(err, perperr.ErrInvalidLayout) {
		t.Errorf("want ErrInvalidLayout, got %v", err)
	}
}

func TestPositionDirection(t *testing.T) {
	p := &state.Position{Size: big.NewInt(10)}
	if p.Direction() != state.DirectionLong || !p.IsLong() {
		t.Error("positive size should be long")
	}
	p.Size = big.NewInt(-10)
	if p.Direction() != state.DirectionShort || !p.IsShort() {
		t.Error("negative size should be short")
	}
	p.Size = big.NewInt(0)
	if p.Direction() != state.DirectionFlat {
		t.Error("zero size should be flat")
	}
}
