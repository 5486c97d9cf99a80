// Package core is the transition orchestrator: it validates every account
// and payload a caller supplies, runs the risk gate, and applies position,
// margin, and market mutations as one atomic batch. A transition either
// commits completely or leaves every record untouched.
package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"perpcore/internal/keys"
	fpmath "perpcore/internal/math"
	"perpcore/internal/observability"
	"perpcore/internal/oracle"
	"perpcore/internal/perperr"
	"perpcore/internal/state"
	"perpcore/internal/store"
	"perpcore/internal/token"
)

// Clock supplies the current unix time in seconds.
type Clock func() int64

// TransitionRecorder receives the audit row for every transition attempt.
type TransitionRecorder interface {
	Record(ctx context.Context, row store.TransitionRow) error
}

// Config carries the engine's fixed identity and policy knobs. The program
// identity is configuration, not a compiled-in constant, so tests can run
// under arbitrary identities.
type Config struct {
	ProgramID    keys.Address
	OracleMaxAge int64 // seconds a price update stays usable
	Clock        Clock
}

// Engine executes state transitions. Transitions are fully serialized by the
// caller; the engine itself never runs two against the same records
// concurrently and spawns no internal work.
type Engine struct {
	programID    keys.Address
	oracleMaxAge int64
	clock        Clock

	store   store.AccountStore
	tokens  *token.Ledger
	metrics *observability.Metrics
	txlog   TransitionRecorder
	log     zerolog.Logger
}

func NewEngine(
	cfg Config,
	st store.AccountStore,
	tokens *token.Ledger,
	metrics *observability.Metrics,
	txlog TransitionRecorder,
	log zerolog.Logger,
) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = func() int64 { return time.Now().Unix() }
	}
	return &Engine{
		programID:    cfg.ProgramID,
		oracleMaxAge: cfg.OracleMaxAge,
		clock:        clock,
		store:        st,
		tokens:       tokens,
		metrics:      metrics,
		txlog:        txlog,
		log:          log,
	}
}

// Transition is one submitted state transition.
type Transition interface {
	Kind() string
}

// InitializeMarket creates a market record and its collateral vault.
type InitializeMarket struct {
	TransitionID    string // optional producer-assigned id
	Authority       keys.Address
	AuthoritySigned bool
	CollateralMint  keys.Address
	MarketAccount   keys.Address
	VaultAccount    keys.Address
	OracleFeed      oracle.FeedID
	Payload         []byte
}

func (InitializeMarket) Kind() string { return KindInitializeMarket }

// InitializeUser creates a trader's margin record with an empty registry.
type InitializeUser struct {
	TransitionID string
	Trader       keys.Address
	TraderSigned bool
	UserAccount  keys.Address
}

func (InitializeUser) Kind() string { return KindInitializeUser }

// OpenPosition opens or adjusts a position. The same transition covers
// first open, same-direction merge, partial close, flip, and flatten; the
// sign of the payload's size delta decides.
type OpenPosition struct {
	TransitionID    string
	Trader          keys.Address
	TraderSigned    bool
	MarketAuthority keys.Address

	// CollateralMint is the mint the market is declared to settle in;
	// UserMint is the mint descriptor the caller supplied. They must match.
	CollateralMint keys.Address
	UserMint       keys.Address

	MarketAccount      keys.Address
	UserAccount        keys.Address
	VaultAccount       keys.Address
	TraderTokenAccount keys.Address
	PositionAccount    keys.Address

	OracleBlob []byte
	Payload    []byte
}

func (OpenPosition) Kind() string { return KindOpenPosition }

// UpdateRiskParams sets a market's margin requirements, fee, and leverage
// ceiling. Only the market authority may submit it.
type UpdateRiskParams struct {
	TransitionID    string
	Authority       keys.Address
	AuthoritySigned bool
	MarketAccount   keys.Address
	Payload         []byte
}

func (UpdateRiskParams) Kind() string { return KindUpdateRiskParams }

// Result summarizes an applied transition.
type Result struct {
	TransitionID string
	Kind         string
	MarketID     uint64
	Created      bool // a fresh record was created

	// Open-position figures, zero elsewhere.
	FillPrice      uint64
	Notional       uint64
	RequiredMargin uint64
	Leverage       uint64
	Fee            uint64
	PositionSize   *big.Int
	EntryPrice     uint64
}

// Apply dispatches one transition, records metrics and the audit row, and
// returns the outcome. Rejections carry a sentinel from perperr.
func (e *Engine) Apply(ctx context.Context, tx Transition) (Result, error) {
	start := time.Now()
	kind := tx.Kind()

	res := Result{TransitionID: submittedID(tx), Kind: kind}
	if res.TransitionID == "" {
		res.TransitionID = uuid.New().String()
	}

	var err error
	switch t := tx.(type) {
	case InitializeMarket:
		err = e.initializeMarket(ctx, t, &res)
	case *InitializeMarket:
		err = e.initializeMarket(ctx, *t, &res)
	case InitializeUser:
		err = e.initializeUser(ctx, t, &res)
	case *InitializeUser:
		err = e.initializeUser(ctx, *t, &res)
	case OpenPosition:
		err = e.openPosition(ctx, t, &res)
	case *OpenPosition:
		err = e.openPosition(ctx, *t, &res)
	case UpdateRiskParams:
		err = e.updateRiskParams(ctx, t, &res)
	case *UpdateRiskParams:
		err = e.updateRiskParams(ctx, *t, &res)
	default:
		err = fmt.Errorf("unknown transition kind %q: %w", kind, perperr.ErrInvalidPayload)
	}

	elapsed := time.Since(start)
	if e.metrics != nil {
		e.metrics.TransitionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
		if err != nil {
			e.metrics.TransitionsRejected.WithLabelValues(kind, perperr.Kind(err)).Inc()
		} else {
			e.metrics.TransitionsApplied.WithLabelValues(kind).Inc()
		}
	}

	e.recordTransition(ctx, tx, res, err)

	if err != nil {
		e.log.Warn().
			Str("transition_id", res.TransitionID).
			Str("kind", kind).
			Str("reason", perperr.Kind(err)).
			Err(err).
			Msg("transition rejected")
		return res, err
	}

	e.log.Info().
		Str("transition_id", res.TransitionID).
		Str("kind", kind).
		Uint64("market_id", res.MarketID).
		Dur("elapsed", elapsed).
		Msg("transition applied")
	return res, nil
}

// ---------------------------------------------------------------------------
// Initialize market
// ---------------------------------------------------------------------------

func (e *Engine) initializeMarket(ctx context.Context, tx InitializeMarket, res *Result) error {
	if !tx.AuthoritySigned {
		return perperr.ErrMissingSignature
	}

	p, err := DecodeInitializeMarketPayload(tx.Payload)
	if err != nil {
		return err
	}
	res.MarketID = p.MarketID

	marketPDA, marketBump := keys.Derive(e.programID, keys.SeedMarketAccount,
		keys.MarketSeeds(tx.Authority, p.MarketID)...)
	if marketPDA != tx.MarketAccount {
		return fmt.Errorf("market account %s: %w", tx.MarketAccount, perperr.ErrAddressMismatch)
	}

	vaultPDA, vaultBump := keys.Derive(e.programID, keys.SeedCollateralVault,
		keys.VaultSeeds(tx.CollateralMint, p.MarketID)...)
	if vaultPDA != tx.VaultAccount {
		return fmt.Errorf("collateral vault %s: %w", tx.VaultAccount, perperr.ErrAddressMismatch)
	}

	exists, err := e.store.Has(ctx, marketPDA)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("market %d: %w", p.MarketID, perperr.ErrAlreadyInitialized)
	}

	market := &state.Market{
		IsInitialized:   true,
		MarketID:        p.MarketID,
		Symbol:          p.Symbol,
		Oracle:          keys.Address(tx.OracleFeed),
		CollateralMint:  tx.CollateralMint,
		CollateralVault: vaultPDA,
		MaxLeverage:     p.MaxLeverage,
		FundingInterval: state.DefaultFundingInterval,
		UnrealizedPnL:   big.NewInt(0),
		Authority:       tx.Authority,
		Bump:            marketBump,
		VaultBump:       vaultBump,
	}

	blob, err := market.Marshal()
	if err != nil {
		return err
	}

	// The vault may survive from an aborted earlier attempt; reuse it.
	if err := e.tokens.CreateAccount(vaultPDA, tx.CollateralMint, marketPDA, 0); err != nil &&
		!isAlreadyInitialized(err) {
		return err
	}

	batch := store.NewWriteBatch()
	batch.Put(store.Record{Address: marketPDA, Owner: e.programID, Data: blob})
	if err := e.commit(ctx, batch); err != nil {
		return err
	}

	res.Created = true
	e.setMarketGauges(market)
	return nil
}

// ---------------------------------------------------------------------------
// Initialize user
// ---------------------------------------------------------------------------

func (e *Engine) initializeUser(ctx context.Context, tx InitializeUser, res *Result) error {
	if !tx.TraderSigned {
		return perperr.ErrMissingSignature
	}

	userPDA, _ := keys.Derive(e.programID, keys.SeedUserAccount, keys.UserSeeds(tx.Trader)...)
	if userPDA != tx.UserAccount {
		return fmt.Errorf("user account %s: %w", tx.UserAccount, perperr.ErrAddressMismatch)
	}

	exists, err := e.store.Has(ctx, userPDA)
	if err != nil {
		return err
	}
	if exists {
		// Re-initialization is a no-op, not a failure.
		return nil
	}

	user := &state.UserMargin{Owner: tx.Trader}
	batch := store.NewWriteBatch()
	batch.Put(store.Record{Address: userPDA, Owner: e.programID, Data: user.Marshal()})
	if err := e.commit(ctx, batch); err != nil {
		return err
	}

	res.Created = true
	return nil
}

// ---------------------------------------------------------------------------
// Open / adjust position
// ---------------------------------------------------------------------------

func (e *Engine) openPosition(ctx context.Context, tx OpenPosition, res *Result) error {
	if !tx.TraderSigned {
		return perperr.ErrMissingSignature
	}

	p, err := DecodeOpenPositionPayload(tx.Payload)
	if err != nil {
		return err
	}
	res.MarketID = p.MarketID

	if tx.UserMint != tx.CollateralMint {
		return fmt.Errorf("user mint %s vs declared %s: %w",
			tx.UserMint, tx.CollateralMint, perperr.ErrMintMismatch)
	}

	// Every supplied account must equal its recomputed derivation before
	// its contents are trusted.
	marketPDA, _ := keys.Derive(e.programID, keys.SeedMarketAccount,
		keys.MarketSeeds(tx.MarketAuthority, p.MarketID)...)
	if marketPDA != tx.MarketAccount {
		return fmt.Errorf("market account %s: %w", tx.MarketAccount, perperr.ErrAddressMismatch)
	}
	userPDA, _ := keys.Derive(e.programID, keys.SeedUserAccount, keys.UserSeeds(tx.Trader)...)
	if userPDA != tx.UserAccount {
		return fmt.Errorf("user account %s: %w", tx.UserAccount, perperr.ErrAddressMismatch)
	}
	positionPDA, _ := keys.Derive(e.programID, keys.SeedPosition,
		keys.PositionSeeds(tx.Trader, p.MarketID)...)
	if positionPDA != tx.PositionAccount {
		return fmt.Errorf("position account %s: %w", tx.PositionAccount, perperr.ErrAddressMismatch)
	}
	vaultPDA, _ := keys.Derive(e.programID, keys.SeedCollateralVault,
		keys.VaultSeeds(tx.CollateralMint, p.MarketID)...)
	if vaultPDA != tx.VaultAccount {
		return fmt.Errorf("collateral vault %s: %w", tx.VaultAccount, perperr.ErrAddressMismatch)
	}

	marketRec, err := e.store.Get(ctx, marketPDA)
	if err != nil {
		return err
	}
	market, err := state.UnmarshalMarket(marketRec.Data)
	if err != nil {
		return err
	}
	if !market.IsInitialized {
		return fmt.Errorf("market %d: %w", p.MarketID, perperr.ErrNotInitialized)
	}
	if market.Authority != tx.MarketAuthority {
		return fmt.Errorf("market authority: %w", perperr.ErrAddressMismatch)
	}
	if market.CollateralVault != vaultPDA {
		return fmt.Errorf("stored vault: %w", perperr.ErrAddressMismatch)
	}
	if market.CollateralMint != tx.CollateralMint {
		return fmt.Errorf("stored mint: %w", perperr.ErrMintMismatch)
	}

	traderTA, err := e.tokens.Account(tx.TraderTokenAccount)
	if err != nil {
		return err
	}
	if traderTA.Owner != tx.Trader {
		return fmt.Errorf("trader token account owner: %w", perperr.ErrAddressMismatch)
	}
	if traderTA.Mint != tx.CollateralMint {
		return fmt.Errorf("trader token account mint: %w", perperr.ErrMintMismatch)
	}
	vaultTA, err := e.tokens.Account(vaultPDA)
	if err != nil {
		return err
	}
	if vaultTA.Mint != tx.CollateralMint {
		return fmt.Errorf("vault mint: %w", perperr.ErrMintMismatch)
	}

	now := e.clock()
	price, err := e.oraclePrice(market, tx.OracleBlob, now)
	if err != nil {
		return err
	}
	res.FillPrice = price

	// Risk gate. Both checks run strictly before any mutation.
	notional, err := fpmath.Notional(p.SizeDelta, price)
	if err != nil {
		return err
	}
	required, err := fpmath.RequiredMargin(notional, market.InitialMarginBps)
	if err != nil {
		return err
	}
	res.Notional = notional
	res.RequiredMargin = required

	if p.MarginDeposit < required {
		return fmt.Errorf("deposit %d below required %d: %w",
			p.MarginDeposit, required, perperr.ErrInsufficientMargin)
	}
	leverage, err := fpmath.Leverage(notional, p.MarginDeposit)
	if err != nil {
		return err
	}
	if leverage > market.MaxLeverage {
		return fmt.Errorf("leverage %dx above market maximum %dx: %w",
			leverage, market.MaxLeverage, perperr.ErrLeverageExceeded)
	}
	fee, err := fpmath.TradingFee(notional, market.FeeBps)
	if err != nil {
		return err
	}
	res.Leverage = leverage
	res.Fee = fee

	// User margin record, created lazily on first open.
	var user *state.UserMargin
	userExists, err := e.store.Has(ctx, userPDA)
	if err != nil {
		return err
	}
	if userExists {
		rec, err := e.store.Get(ctx, userPDA)
		if err != nil {
			return err
		}
		if user, err = state.UnmarshalUserMargin(rec.Data); err != nil {
			return err
		}
		if user.Owner != tx.Trader {
			return fmt.Errorf("user margin owner: %w", perperr.ErrAddressMismatch)
		}
	} else {
		user = &state.UserMargin{Owner: tx.Trader}
	}

	// The deposit lands in the aggregate balance and the fee comes straight
	// back out of it. Coverage is checked before the token transfer runs, so
	// a fee shortfall rejects the transition with the vault untouched.
	if err := user.Credit(p.MarginDeposit); err != nil {
		return err
	}
	if err := user.DeductFee(fee); err != nil {
		return err
	}

	// Position record: update in place, or create under the derived address.
	var position *state.Position
	created := false
	posExists, err := e.store.Has(ctx, positionPDA)
	if err != nil {
		return err
	}
	if posExists {
		rec, err := e.store.Get(ctx, positionPDA)
		if err != nil {
			return err
		}
		if position, err = state.UnmarshalPosition(rec.Data); err != nil {
			return err
		}
		if position.User != tx.Trader {
			return fmt.Errorf("position owner: %w", perperr.ErrAddressMismatch)
		}
	} else {
		position = &state.Position{User: tx.Trader, Market: marketPDA, Size: big.NewInt(0)}
		created = true
	}

	if err := state.ApplyDelta(position, p.SizeDelta, price, p.MarginDeposit, now); err != nil {
		return err
	}
	if created {
		if err := user.RegisterPosition(positionPDA); err != nil {
			return err
		}
	}

	if err := market.ApplyTradeDelta(p.SizeDelta, p.MarginDeposit); err != nil {
		return err
	}

	marketBlob, err := market.Marshal()
	if err != nil {
		return err
	}
	positionBlob, err := position.Marshal()
	if err != nil {
		return err
	}

	batch := store.NewWriteBatch()
	batch.Put(store.Record{Address: positionPDA, Owner: e.programID, Data: positionBlob})
	batch.Put(store.Record{Address: userPDA, Owner: e.programID, Data: user.Marshal()})
	batch.Put(store.Record{Address: marketPDA, Owner: e.programID, Data: marketBlob})

	// Last fallible external effect before the commit boundary.
	if err := e.tokens.TransferChecked(
		tx.TraderTokenAccount, vaultPDA, tx.Trader, tx.CollateralMint, p.MarginDeposit,
	); err != nil {
		return err
	}
	if err := e.commit(ctx, batch); err != nil {
		return err
	}

	res.Created = created
	res.PositionSize = new(big.Int).Set(position.Size)
	res.EntryPrice = position.EntryPrice
	e.setMarketGauges(market)
	if e.metrics != nil {
		e.metrics.OraclePrice.WithLabelValues(marketLabel(market.MarketID)).Set(float64(price))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Update risk params
// ---------------------------------------------------------------------------

func (e *Engine) updateRiskParams(ctx context.Context, tx UpdateRiskParams, res *Result) error {
	if !tx.AuthoritySigned {
		return perperr.ErrMissingSignature
	}

	p, err := DecodeUpdateRiskParamsPayload(tx.Payload)
	if err != nil {
		return err
	}
	res.MarketID = p.MarketID

	marketPDA, _ := keys.Derive(e.programID, keys.SeedMarketAccount,
		keys.MarketSeeds(tx.Authority, p.MarketID)...)
	if marketPDA != tx.MarketAccount {
		return fmt.Errorf("market account %s: %w", tx.MarketAccount, perperr.ErrAddressMismatch)
	}

	rec, err := e.store.Get(ctx, marketPDA)
	if err != nil {
		return err
	}
	market, err := state.UnmarshalMarket(rec.Data)
	if err != nil {
		return err
	}
	if !market.IsInitialized {
		return fmt.Errorf("market %d: %w", p.MarketID, perperr.ErrNotInitialized)
	}
	if market.Authority != tx.Authority {
		return fmt.Errorf("market authority: %w", perperr.ErrAddressMismatch)
	}

	market.InitialMarginBps = p.InitialMarginBps
	market.MaintenanceMarginBps = p.MaintenanceMarginBps
	market.FeeBps = p.FeeBps
	market.MaxLeverage = p.MaxLeverage

	blob, err := market.Marshal()
	if err != nil {
		return err
	}
	batch := store.NewWriteBatch()
	batch.Put(store.Record{Address: marketPDA, Owner: e.programID, Data: blob})
	return e.commit(ctx, batch)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (e *Engine) oraclePrice(market *state.Market, blob []byte, now int64) (uint64, error) {
	adapter := oracle.AdapterForFeed(oracle.FeedID(market.Oracle), e.oracleMaxAge)
	return adapter.Price(blob, now)
}

func (e *Engine) commit(ctx context.Context, batch *store.WriteBatch) error {
	start := time.Now()
	err := e.store.Commit(ctx, batch)
	if e.metrics != nil {
		e.metrics.StoreCommitDuration.Observe(time.Since(start).Seconds())
	}
	return err
}

func (e *Engine) setMarketGauges(m *state.Market) {
	if e.metrics == nil {
		return
	}
	label := marketLabel(m.MarketID)
	e.metrics.OpenInterestLong.WithLabelValues(label).Set(float64(m.OpenInterestLong))
	e.metrics.OpenInterestShort.WithLabelValues(label).Set(float64(m.OpenInterestShort))
	e.metrics.TotalCollateral.WithLabelValues(label).Set(float64(m.TotalCollateral))
}

func (e *Engine) recordTransition(ctx context.Context, tx Transition, res Result, applyErr error) {
	if e.txlog == nil {
		return
	}

	row := store.TransitionRow{
		TransitionID: res.TransitionID,
		Kind:         res.Kind,
		Outcome:      "applied",
		AppliedAt:    time.Now().UTC(),
	}
	if res.MarketID != 0 || res.Kind != KindInitializeUser {
		id := int64(res.MarketID)
		row.MarketID = &id
	}
	if trader := transitionTrader(tx); trader != "" {
		row.Trader = &trader
	}
	if applyErr != nil {
		row.Outcome = "rejected"
		reason := perperr.Kind(applyErr)
		row.Reason = &reason
	}

	detail, err := store.MarshalDetail(map[string]interface{}{
		"fill_price":      res.FillPrice,
		"notional":        res.Notional,
		"required_margin": res.RequiredMargin,
		"leverage":        res.Leverage,
		"fee":             res.Fee,
		"created":         res.Created,
	})
	if err == nil {
		row.Detail = detail
	}

	if err := e.txlog.Record(ctx, row); err != nil {
		// The audit log never blocks the transition outcome.
		e.log.Error().Err(err).Str("transition_id", res.TransitionID).Msg("transition log write failed")
	}
}

func submittedID(tx Transition) string {
	switch t := tx.(type) {
	case InitializeMarket:
		return t.TransitionID
	case *InitializeMarket:
		return t.TransitionID
	case InitializeUser:
		return t.TransitionID
	case *InitializeUser:
		return t.TransitionID
	case OpenPosition:
		return t.TransitionID
	case *OpenPosition:
		return t.TransitionID
	case UpdateRiskParams:
		return t.TransitionID
	case *UpdateRiskParams:
		return t.TransitionID
	}
	return ""
}

func transitionTrader(tx Transition) string {
	switch t := tx.(type) {
	case OpenPosition:
		return t.Trader.String()
	case *OpenPosition:
		return t.Trader.String()
	case InitializeUser:
		return t.Trader.String()
	case *InitializeUser:
		return t.Trader.String()
	}
	return ""
}

func marketLabel(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func isAlreadyInitialized(err error) bool {
	return errors.Is(err, perperr.ErrAlreadyInitialized)
}
