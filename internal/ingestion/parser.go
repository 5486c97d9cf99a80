// Package ingestion is the transport shell in front of the engine: it
// receives transition envelopes over NATS JetStream, parses and deduplicates
// them, and hands typed transitions to the orchestrator one at a time.
package ingestion

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"perpcore/internal/core"
	"perpcore/internal/keys"
	"perpcore/internal/oracle"
)

// envelopeJSON is the wire form of one submitted transition. Producers use
// snake_case field names; addresses are base58, binary payloads hex.
type envelopeJSON struct {
	TransitionID string            `json:"transition_id"`
	Kind         string            `json:"kind"`
	Signers      []string          `json:"signers"`
	Accounts     map[string]string `json:"accounts"`
	Payload      string            `json:"payload"`
	OracleFeed   string            `json:"oracle_feed,omitempty"`
	OracleBlob   string            `json:"oracle_blob,omitempty"`
}

// Submission is a parsed envelope ready for the engine.
type Submission struct {
	TransitionID string
	Transition   core.Transition
}

// ParseEnvelope converts raw envelope bytes into a typed transition.
// Structural problems (bad JSON, bad addresses, unknown kind) fail here;
// payload semantics are the engine's job.
func ParseEnvelope(data []byte) (*Submission, error) {
	var env envelopeJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}

	if _, err := uuid.Parse(env.TransitionID); err != nil {
		return nil, fmt.Errorf("parse transition_id %q: %w", env.TransitionID, err)
	}

	payload, err := hex.DecodeString(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload hex: %w", err)
	}

	var tx core.Transition
	switch env.Kind {
	case core.KindInitializeMarket:
		tx, err = parseInitializeMarket(&env, payload)
	case core.KindInitializeUser:
		tx, err = parseInitializeUser(&env)
	case core.KindOpenPosition:
		tx, err = parseOpenPosition(&env, payload)
	case core.KindUpdateRiskParams:
		tx, err = parseUpdateRiskParams(&env, payload)
	default:
		return nil, fmt.Errorf("unknown transition kind %q", env.Kind)
	}
	if err != nil {
		return nil, err
	}

	return &Submission{TransitionID: env.TransitionID, Transition: tx}, nil
}

func parseInitializeMarket(env *envelopeJSON, payload []byte) (core.Transition, error) {
	authority, err := account(env, "authority")
	if err != nil {
		return nil, err
	}
	mint, err := account(env, "collateral_mint")
	if err != nil {
		return nil, err
	}
	market, err := account(env, "market_account")
	if err != nil {
		return nil, err
	}
	vault, err := account(env, "collateral_vault")
	if err != nil {
		return nil, err
	}
	feed, err := oracle.FeedIDFromHex(env.OracleFeed)
	if err != nil {
		return nil, fmt.Errorf("parse oracle_feed: %w", err)
	}

	return core.InitializeMarket{
		TransitionID:    env.TransitionID,
		Authority:       authority,
		AuthoritySigned: signed(env, authority),
		CollateralMint:  mint,
		MarketAccount:   market,
		VaultAccount:    vault,
		OracleFeed:      feed,
		Payload:         payload,
	}, nil
}

func parseInitializeUser(env *envelopeJSON) (core.Transition, error) {
	trader, err := account(env, "trader")
	if err != nil {
		return nil, err
	}
	userAccount, err := account(env, "user_account")
	if err != nil {
		return nil, err
	}
	return core.InitializeUser{
		TransitionID: env.TransitionID,
		Trader:       trader,
		TraderSigned: signed(env, trader),
		UserAccount:  userAccount,
	}, nil
}

func parseOpenPosition(env *envelopeJSON, payload []byte) (core.Transition, error) {
	tx := core.OpenPosition{TransitionID: env.TransitionID, Payload: payload}

	for _, f := range []struct {
		name string
		dst  *keys.Address
	}{
		{"trader", &tx.Trader},
		{"market_authority", &tx.MarketAuthority},
		{"collateral_mint", &tx.CollateralMint},
		{"user_mint", &tx.UserMint},
		{"market_account", &tx.MarketAccount},
		{"user_account", &tx.UserAccount},
		{"collateral_vault", &tx.VaultAccount},
		{"trader_token_account", &tx.TraderTokenAccount},
		{"position_account", &tx.PositionAccount},
	} {
		addr, err := account(env, f.name)
		if err != nil {
			return nil, err
		}
		*f.dst = addr
	}

	blob, err := hex.DecodeString(env.OracleBlob)
	if err != nil {
		return nil, fmt.Errorf("decode oracle_blob hex: %w", err)
	}
	tx.OracleBlob = blob
	tx.TraderSigned = signed(env, tx.Trader)
	return tx, nil
}

func parseUpdateRiskParams(env *envelopeJSON, payload []byte) (core.Transition, error) {
	authority, err := account(env, "authority")
	if err != nil {
		return nil, err
	}
	market, err := account(env, "market_account")
	if err != nil {
		return nil, err
	}
	return core.UpdateRiskParams{
		TransitionID:    env.TransitionID,
		Authority:       authority,
		AuthoritySigned: signed(env, authority),
		MarketAccount:   market,
		Payload:         payload,
	}, nil
}

func account(env *envelopeJSON, name string) (keys.Address, error) {
	raw, ok := env.Accounts[name]
	if !ok {
		return keys.Address{}, fmt.Errorf("envelope missing account %q", name)
	}
	addr, err := keys.ParseAddress(raw)
	if err != nil {
		return keys.Address{}, fmt.Errorf("parse account %q: %w", name, err)
	}
	return addr, nil
}

func signed(env *envelopeJSON, addr keys.Address) bool {
	s := addr.String()
	for _, sig := range env.Signers {
		if sig == s {
			return true
		}
	}
	return false
}
