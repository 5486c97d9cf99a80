// Package state defines the three on-chain records (Market, UserMargin,
// Position), their fixed-width binary codec, and the pure state transitions
// applied to them. The codec validates blob length before interpreting any
// field; field contents are validated by the orchestrator, not here.
package state

import (
	"encoding/binary"
	"math/big"

	"perpcore/internal/keys"
	fpmath "perpcore/internal/math"
	"perpcore/internal/perperr"
)

// SymbolLen is the fixed width of the human-readable market symbol.
const SymbolLen = 16

// Market is the per-market configuration and aggregate record.
// One exists per (authority, market id) pair; it is created once and never
// deleted.
type Market struct {
	IsInitialized bool
	MarketID      uint64
	Symbol        [SymbolLen]byte

	Oracle          keys.Address // primary price feed account
	BaseOracle      keys.Address // fallback feed
	CollateralMint  keys.Address
	CollateralVault keys.Address

	// Risk parameters, basis points.
	InitialMarginBps     uint64
	MaintenanceMarginBps uint64
	MaxLeverage          uint64
	FeeBps               uint64

	// Funding state. Carried and initialized here, settled elsewhere.
	FundingRate     int64
	LastFundingTime int64
	FundingInterval int64

	// Aggregates.
	OpenInterestLong  uint64
	OpenInterestShort uint64
	TotalCollateral   uint64
	UnrealizedPnL     *big.Int // system-wide snapshot, i128

	Authority keys.Address
	Bump      uint8 // derivation proof for the market account
	VaultBump uint8 // derivation proof for the collateral vault
}

// MarketSize is the encoded size of a Market record.
const MarketSize = 1 + 8 + SymbolLen + 4*32 + 4*8 + 3*8 + 3*8 + 16 + 32 + 1 + 1

// DefaultFundingInterval is the settlement cadence written at market
// creation: every 8 hours.
const DefaultFundingInterval = 28_800

// UnmarshalMarket decodes a Market from a fixed-layout blob.
func UnmarshalMarket(b []byte) (*Market, error) {
	if len(b) < MarketSize {
		return nil, perperr.ErrInvalidLayout
	}

	m := &Market{}
	m.IsInitialized = b[0] != 0
	m.MarketID = binary.LittleEndian.Uint64(b[1:9])
	copy(m.Symbol[:], b[9:25])
	copy(m.Oracle[:], b[25:57])
	copy(m.BaseOracle[:], b[57:89])
	copy(m.CollateralMint[:], b[89:121])
	copy(m.CollateralVault[:], b[121:153])
	m.InitialMarginBps = binary.LittleEndian.Uint64(b[153:161])
	m.MaintenanceMarginBps = binary.LittleEndian.Uint64(b[161:169])
	m.MaxLeverage = binary.LittleEndian.Uint64(b[169:177])
	m.FeeBps = binary.LittleEndian.Uint64(b[177:185])
	m.FundingRate = int64(binary.LittleEndian.Uint64(b[185:193]))
	m.LastFundingTime = int64(binary.LittleEndian.Uint64(b[193:201]))
	m.FundingInterval = int64(binary.LittleEndian.Uint64(b[201:209]))
	m.OpenInterestLong = binary.LittleEndian.Uint64(b[209:217])
	m.OpenInterestShort = binary.LittleEndian.Uint64(b[217:225])
	m.TotalCollateral = binary.LittleEndian.Uint64(b[225:233])

	pnl, err := fpmath.DecodeI128LE(b[233:249])
	if err != nil {
		return nil, err
	}
	m.UnrealizedPnL = pnl

	copy(m.Authority[:], b[249:281])
	m.Bump = b[281]
	m.VaultBump = b[282]

	return m, nil
}

// Marshal encodes the record into a fresh MarketSize blob.
func (m *Market) Marshal() ([]byte, error) {
	b := make([]byte, MarketSize)
	if m.IsInitialized {
		b[0] = 1
	}
	binary.LittleEndian.PutUint64(b[1:9], m.MarketID)
	copy(b[9:25], m.Symbol[:])
	copy(b[25:57], m.Oracle[:])
	copy(b[57:89], m.BaseOracle[:])
	copy(b[89:121], m.CollateralMint[:])
	copy(b[121:153], m.CollateralVault[:])
	binary.LittleEndian.PutUint64(b[153:161], m.InitialMarginBps)
	binary.LittleEndian.PutUint64(b[161:169], m.MaintenanceMarginBps)
	binary.LittleEndian.PutUint64(b[169:177], m.MaxLeverage)
	binary.LittleEndian.PutUint64(b[177:185], m.FeeBps)
	binary.LittleEndian.PutUint64(b[185:193], uint64(m.FundingRate))
	binary.LittleEndian.PutUint64(b[193:201], uint64(m.LastFundingTime))
	binary.LittleEndian.PutUint64(b[201:209], uint64(m.FundingInterval))
	binary.LittleEndian.PutUint64(b[209:217], m.OpenInterestLong)
	binary.LittleEndian.PutUint64(b[217:225], m.OpenInterestShort)
	binary.LittleEndian.PutUint64(b[225:233], m.TotalCollateral)

	pnl := m.UnrealizedPnL
	if pnl == nil {
		pnl = big.NewInt(0)
	}
	if err := fpmath.EncodeI128LE(b[233:249], pnl); err != nil {
		return nil, err
	}

	copy(b[249:281], m.Authority[:])
	b[281] = m.Bump
	b[282] = m.VaultBump

	return b, nil
}

// SymbolString returns the symbol with trailing NULs stripped.
func (m *Market) SymbolString() string {
	end := len(m.Symbol)
	for end > 0 && m.Symbol[end-1] == 0 {
		end--
	}
	return string(m.Symbol[:end])
}

// ApplyTradeDelta updates the market aggregates for one committed
// transition: |sizeDelta| is added to the open interest on the delta's side,
// and the margin deposit is added to total collateral. The inputs are the
// transition's deltas, never the position's new absolute size, so repeated
// merges are not double counted.
func (m *Market) ApplyTradeDelta(sizeDelta *big.Int, marginDelta uint64) error {
	abs, err := fpmath.AbsU64(sizeDelta)
	if err != nil {
		return err
	}

	if sizeDelta.Sign() > 0 {
		oi, err := fpmath.CheckedAddU64(m.OpenInterestLong, abs)
		if err != nil {
			return err
		}
		m.OpenInterestLong = oi
	} else {
		oi, err := fpmath.CheckedAddU64(m.OpenInterestShort, abs)
		if err != nil {
			return err
		}
		m.OpenInterestShort = oi
	}

	total, err := fpmath.CheckedAddU64(m.TotalCollateral, marginDelta)
	if err != nil {
		return err
	}
	m.TotalCollateral = total

	return nil
}
