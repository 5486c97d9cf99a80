package core

import (
	"encoding/binary"
	"fmt"
	"math/big"

	fpmath "perpcore/internal/math"
	"perpcore/internal/perperr"
)

// Transition kinds, used for dispatch, metrics labels and the transition log.
const (
	KindInitializeMarket = "initialize_market"
	KindInitializeUser   = "initialize_user"
	KindOpenPosition     = "open_position"
	KindUpdateRiskParams = "update_risk_params"
)

// Fixed payload sizes. Payloads are little-endian and fixed-width; anything
// shorter than the minimum is ErrInvalidPayload.
const (
	InitializeMarketPayloadSize = 32
	OpenPositionPayloadSize     = 25
	UpdateRiskParamsPayloadSize = 33
)

// InitializeMarketPayload is the decoded initialize-market instruction:
// [0:8) market_id u64, [8:24) symbol, [24:32) max_leverage u64.
type InitializeMarketPayload struct {
	MarketID    uint64
	Symbol      [16]byte
	MaxLeverage uint64
}

func DecodeInitializeMarketPayload(b []byte) (InitializeMarketPayload, error) {
	var p InitializeMarketPayload
	if len(b) < InitializeMarketPayloadSize {
		return p, fmt.Errorf("initialize-market payload %d bytes: %w", len(b), perperr.ErrInvalidPayload)
	}
	p.MarketID = binary.LittleEndian.Uint64(b[0:8])
	copy(p.Symbol[:], b[8:24])
	p.MaxLeverage = binary.LittleEndian.Uint64(b[24:32])
	return p, nil
}

// OpenPositionPayload is the decoded open/adjust-position instruction:
// [0:1) market_id u8, [1:17) size_delta i128, [17:25) margin_deposit u64.
// A zero size delta never reaches the lifecycle manager.
type OpenPositionPayload struct {
	MarketID      uint64
	SizeDelta     *big.Int
	MarginDeposit uint64
}

func DecodeOpenPositionPayload(b []byte) (OpenPositionPayload, error) {
	var p OpenPositionPayload
	if len(b) < OpenPositionPayloadSize {
		return p, fmt.Errorf("open-position payload %d bytes: %w", len(b), perperr.ErrInvalidPayload)
	}
	p.MarketID = uint64(b[0])
	delta, err := fpmath.DecodeI128LE(b[1:17])
	if err != nil {
		return p, err
	}
	if delta.Sign() == 0 {
		return p, fmt.Errorf("zero size delta: %w", perperr.ErrInvalidPayload)
	}
	p.SizeDelta = delta
	p.MarginDeposit = binary.LittleEndian.Uint64(b[17:25])
	return p, nil
}

// UpdateRiskParamsPayload is the decoded risk-parameter update:
// [0:1) market_id u8, [1:9) initial_margin_bps, [9:17) maintenance_margin_bps,
// [17:25) fee_bps, [25:33) max_leverage.
type UpdateRiskParamsPayload struct {
	MarketID             uint64
	InitialMarginBps     uint64
	MaintenanceMarginBps uint64
	FeeBps               uint64
	MaxLeverage          uint64
}

func DecodeUpdateRiskParamsPayload(b []byte) (UpdateRiskParamsPayload, error) {
	var p UpdateRiskParamsPayload
	if len(b) < UpdateRiskParamsPayloadSize {
		return p, fmt.Errorf("risk-params payload %d bytes: %w", len(b), perperr.ErrInvalidPayload)
	}
	p.MarketID = uint64(b[0])
	p.InitialMarginBps = binary.LittleEndian.Uint64(b[1:9])
	p.MaintenanceMarginBps = binary.LittleEndian.Uint64(b[9:17])
	p.FeeBps = binary.LittleEndian.Uint64(b[17:25])
	p.MaxLeverage = binary.LittleEndian.Uint64(b[25:33])
	return p, nil
}
