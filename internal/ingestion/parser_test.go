package ingestion

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"perpcore/internal/core"
	"perpcore/internal/keys"
	fpmath "perpcore/internal/math"
)

const testTxID = "3b1c7a52-61c4-4b8a-9f33-0de0c2a1a6a7"

func addrOf(b byte) keys.Address {
	var a keys.Address
	a[0] = b
	a[31] = 0x11
	return a
}

func openEnvelope(t *testing.T, mutate func(map[string]interface{})) []byte {
	t.Helper()

	payload := make([]byte, core.OpenPositionPayloadSize)
	payload[0] = 3
	if err := fpmath.EncodeI128LE(payload[1:17], big.NewInt(-25)); err != nil {
		t.Fatalf("encode delta: %v", err)
	}
	payload[17] = 0x40

	env := map[string]interface{}{
		"transition_id": testTxID,
		"kind":          core.KindOpenPosition,
		"signers":       []string{addrOf(1).String()},
		"accounts": map[string]string{
			"trader":               addrOf(1).String(),
			"market_authority":     addrOf(2).String(),
			"collateral_mint":      addrOf(3).String(),
			"user_mint":            addrOf(3).String(),
			"market_account":       addrOf(4).String(),
			"user_account":         addrOf(5).String(),
			"collateral_vault":     addrOf(6).String(),
			"trader_token_account": addrOf(7).String(),
			"position_account":     addrOf(8).String(),
		},
		"payload":     hex.EncodeToString(payload),
		"oracle_blob": strings.Repeat("00", 126),
	}
	if mutate != nil {
		mutate(env)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func TestParseEnvelope_OpenPosition(t *testing.T) {
	sub, err := ParseEnvelope(openEnvelope(t, nil))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if sub.TransitionID != testTxID {
		t.Fatalf("transition id = %q", sub.TransitionID)
	}

	tx, ok := sub.Transition.(core.OpenPosition)
	if !ok {
		t.Fatalf("transition type %T", sub.Transition)
	}
	if tx.Trader != addrOf(1) || !tx.TraderSigned {
		t.Fatalf("trader = %s signed=%v", tx.Trader, tx.TraderSigned)
	}
	if tx.PositionAccount != addrOf(8) || tx.VaultAccount != addrOf(6) {
		t.Fatal("account mapping wrong")
	}
	if len(tx.Payload) != core.OpenPositionPayloadSize || len(tx.OracleBlob) != 126 {
		t.Fatalf("payload %d bytes, blob %d bytes", len(tx.Payload), len(tx.OracleBlob))
	}

	p, err := core.DecodeOpenPositionPayload(tx.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.MarketID != 3 || p.SizeDelta.Cmp(big.NewInt(-25)) != 0 || p.MarginDeposit != 0x40 {
		t.Fatalf("payload = %+v", p)
	}
}

func TestParseEnvelope_UnsignedTrader(t *testing.T) {
	data := openEnvelope(t, func(env map[string]interface{}) {
		env["signers"] = []string{addrOf(9).String()}
	})
	sub, err := ParseEnvelope(data)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if sub.Transition.(core.OpenPosition).TraderSigned {
		t.Fatal("trader marked signed without a matching signer entry")
	}
}

func TestParseEnvelope_MissingAccount(t *testing.T) {
	data := openEnvelope(t, func(env map[string]interface{}) {
		accounts := env["accounts"].(map[string]string)
		delete(accounts, "position_account")
	})
	if _, err := ParseEnvelope(data); err == nil ||
		!strings.Contains(err.Error(), "position_account") {
		t.Fatalf("err = %v, want missing position_account", err)
	}
}

func TestParseEnvelope_BadTransitionID(t *testing.T) {
	data := openEnvelope(t, func(env map[string]interface{}) {
		env["transition_id"] = "not-a-uuid"
	})
	if _, err := ParseEnvelope(data); err == nil {
		t.Fatal("expected error for malformed transition id")
	}
}

func TestParseEnvelope_UnknownKind(t *testing.T) {
	data := openEnvelope(t, func(env map[string]interface{}) {
		env["kind"] = "close_market"
	})
	if _, err := ParseEnvelope(data); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestParseEnvelope_BadPayloadHex(t *testing.T) {
	data := openEnvelope(t, func(env map[string]interface{}) {
		env["payload"] = "zz"
	})
	if _, err := ParseEnvelope(data); err == nil {
		t.Fatal("expected error for bad payload hex")
	}
}

func TestParseEnvelope_InitializeMarket(t *testing.T) {
	payload := make([]byte, core.InitializeMarketPayloadSize)
	payload[0] = 3
	copy(payload[8:24], "SOL-PERP")
	payload[24] = 20

	env := map[string]interface{}{
		"transition_id": testTxID,
		"kind":          core.KindInitializeMarket,
		"signers":       []string{addrOf(2).String()},
		"accounts": map[string]string{
			"authority":        addrOf(2).String(),
			"collateral_mint":  addrOf(3).String(),
			"market_account":   addrOf(4).String(),
			"collateral_vault": addrOf(6).String(),
		},
		"payload":     hex.EncodeToString(payload),
		"oracle_feed": strings.Repeat("ab", 32),
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	sub, err := ParseEnvelope(data)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	tx, ok := sub.Transition.(core.InitializeMarket)
	if !ok {
		t.Fatalf("transition type %T", sub.Transition)
	}
	if !tx.AuthoritySigned || tx.Authority != addrOf(2) {
		t.Fatal("authority not recognized as signer")
	}
	if tx.OracleFeed[0] != 0xab {
		t.Fatal("oracle feed not decoded")
	}
}

func TestParseEnvelope_MalformedJSON(t *testing.T) {
	if _, err := ParseEnvelope([]byte("{")); err == nil {
		t.Fatal("expected error for malformed json")
	}
}
