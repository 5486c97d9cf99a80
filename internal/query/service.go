// Package query serves read-only views of the account store. Lookups derive
// the record address from the caller-supplied identifiers, so a view request
// can never read an account the derivation rules would not produce.
package query

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"

	"perpcore/internal/keys"
	"perpcore/internal/perperr"
	"perpcore/internal/state"
	"perpcore/internal/store"
)

// Service answers market, user, and position lookups against the live
// account store.
type Service struct {
	store   store.AccountStore
	program keys.Address
}

func NewService(st store.AccountStore, program keys.Address) *Service {
	return &Service{store: st, program: program}
}

// Market returns the view of the market record at the given address.
func (s *Service) Market(ctx context.Context, addr keys.Address) (*MarketView, error) {
	rec, err := s.ownedRecord(ctx, addr)
	if err != nil {
		return nil, err
	}
	m, err := state.UnmarshalMarket(rec.Data)
	if err != nil {
		return nil, err
	}
	if !m.IsInitialized {
		return nil, perperr.ErrNotInitialized
	}
	return &MarketView{
		Address:              addr.String(),
		MarketID:             m.MarketID,
		Symbol:               m.SymbolString(),
		Oracle:               m.Oracle.String(),
		CollateralMint:       m.CollateralMint.String(),
		CollateralVault:      m.CollateralVault.String(),
		Authority:            m.Authority.String(),
		InitialMarginBps:     m.InitialMarginBps,
		MaintenanceMarginBps: m.MaintenanceMarginBps,
		MaxLeverage:          m.MaxLeverage,
		FeeBps:               m.FeeBps,
		FundingRate:          m.FundingRate,
		LastFundingTime:      m.LastFundingTime,
		FundingInterval:      m.FundingInterval,
		OpenInterestLong:     m.OpenInterestLong,
		OpenInterestShort:    m.OpenInterestShort,
		TotalCollateral:      m.TotalCollateral,
	}, nil
}

// User derives the trader's margin account address and returns its view.
// Only occupied registry slots appear in Positions.
func (s *Service) User(ctx context.Context, trader keys.Address) (*UserView, error) {
	addr, _ := keys.Derive(s.program, keys.SeedUserAccount, keys.UserSeeds(trader)...)
	rec, err := s.ownedRecord(ctx, addr)
	if err != nil {
		return nil, err
	}
	u, err := state.UnmarshalUserMargin(rec.Data)
	if err != nil {
		return nil, err
	}
	positions := make([]string, 0, state.MaxOpenPositions)
	for _, p := range u.OpenPositions {
		if !p.IsZero() {
			positions = append(positions, p.String())
		}
	}
	return &UserView{
		Address:       addr.String(),
		Trader:        u.Owner.String(),
		MarginBalance: u.MarginBalance,
		Positions:     positions,
	}, nil
}

// Position derives the (trader, market) position address and returns its view.
func (s *Service) Position(ctx context.Context, trader keys.Address, marketID uint64) (*PositionView, error) {
	addr, _ := keys.Derive(s.program, keys.SeedPosition, keys.PositionSeeds(trader, marketID)...)
	rec, err := s.ownedRecord(ctx, addr)
	if err != nil {
		return nil, err
	}
	p, err := state.UnmarshalPosition(rec.Data)
	if err != nil {
		return nil, err
	}
	return &PositionView{
		Address:    addr.String(),
		Trader:     p.User.String(),
		Market:     p.Market.String(),
		Size:       p.Size.String(),
		Direction:  p.Direction().String(),
		EntryPrice: FormatPrice(p.EntryPrice),
		Margin:     p.Margin,
		IsActive:   p.IsActive,
	}, nil
}

func (s *Service) ownedRecord(ctx context.Context, addr keys.Address) (store.Record, error) {
	rec, err := s.store.Get(ctx, addr)
	if err != nil {
		return store.Record{}, err
	}
	if rec.Owner != s.program {
		return store.Record{}, perperr.ErrNotInitialized
	}
	return rec, nil
}

// oracleDecimals matches oracle.PriceScale (1e8).
const oracleDecimals = 8

// FormatPrice renders an oracle-scale integer price as a decimal string,
// e.g. 2_050_000_000 -> "20.5".
func FormatPrice(p uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(p), -oracleDecimals).String()
}
