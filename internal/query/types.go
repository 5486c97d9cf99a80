package query

// MarketView is the read-model projection of a market record. Oracle-scale
// prices are rendered as decimal strings; addresses as base58.
type MarketView struct {
	Address         string `json:"address"`
	MarketID        uint64 `json:"market_id"`
	Symbol          string `json:"symbol"`
	Oracle          string `json:"oracle"`
	CollateralMint  string `json:"collateral_mint"`
	CollateralVault string `json:"collateral_vault"`
	Authority       string `json:"authority"`

	InitialMarginBps     uint64 `json:"initial_margin_bps"`
	MaintenanceMarginBps uint64 `json:"maintenance_margin_bps"`
	MaxLeverage          uint64 `json:"max_leverage"`
	FeeBps               uint64 `json:"fee_bps"`

	FundingRate     int64 `json:"funding_rate"`
	LastFundingTime int64 `json:"last_funding_time"`
	FundingInterval int64 `json:"funding_interval"`

	OpenInterestLong  uint64 `json:"open_interest_long"`
	OpenInterestShort uint64 `json:"open_interest_short"`
	TotalCollateral   uint64 `json:"total_collateral"`
}

// UserView is the read-model projection of a user margin account.
type UserView struct {
	Address       string   `json:"address"`
	Trader        string   `json:"trader"`
	MarginBalance uint64   `json:"margin_balance"`
	Positions     []string `json:"positions"`
}

// PositionView is the read-model projection of a position record. Size is a
// signed contract count (decimal string, may exceed int64); EntryPrice is a
// decimal string at oracle precision.
type PositionView struct {
	Address    string `json:"address"`
	Trader     string `json:"trader"`
	Market     string `json:"market"`
	Size       string `json:"size"`
	Direction  string `json:"direction"`
	EntryPrice string `json:"entry_price"`
	Margin     uint64 `json:"margin"`
	IsActive   bool   `json:"is_active"`
}
