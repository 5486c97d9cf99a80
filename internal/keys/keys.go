// Package keys implements deterministic control-address derivation.
// An address is derived from a namespace tag, an ordered seed list, a proof
// nonce (bump), and the program identity. Callers supply both the address and
// the bump; the engine re-derives and compares before trusting any account.
package keys

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// Address is a 32-byte account address.
type Address [32]byte

// ZeroAddress is the sentinel for empty registry slots.
var ZeroAddress Address

// Derivation namespaces. Each logical entity type derives under exactly one.
const (
	SeedMarketAccount   = "market_account"
	SeedCollateralVault = "collateral_vault"
	SeedUserAccount     = "user_account"
	SeedPosition        = "position"
)

// derivedAddressMarker domain-separates derived addresses from keypair
// addresses in the hash input.
const derivedAddressMarker = "PerpDerivedAddress"

// IsZero reports whether a is the empty-slot sentinel.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// String renders the address in base58, the form used in logs, the query
// API, and the transition wire envelope.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns the raw 32 bytes as a fresh slice.
func (a Address) Bytes() []byte {
	return a[:]
}

// ParseAddress decodes a base58-encoded 32-byte address.
func ParseAddress(s string) (Address, error) {
	raw := base58.Decode(s)
	if len(raw) != 32 {
		return Address{}, fmt.Errorf("address %q: want 32 bytes, got %d", s, len(raw))
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// AddressFromBytes copies b into an Address. b must be exactly 32 bytes.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != 32 {
		return Address{}, fmt.Errorf("address: want 32 bytes, got %d", len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// deriveWithBump hashes tag || seeds || bump || program || marker.
func deriveWithBump(program Address, tag string, seeds [][]byte, bump uint8) Address {
	h := sha256.New()
	h.Write([]byte(tag))
	for _, s := range seeds {
		h.Write(s)
	}
	h.Write([]byte{bump})
	h.Write(program[:])
	h.Write([]byte(derivedAddressMarker))
	var a Address
	h.Sum(a[:0])
	return a
}

// Derive finds the control address for (tag, seeds) under program, scanning
// bump values from 255 downward. Candidates whose last byte is zero are
// skipped; those addresses are reserved for runtime-owned accounts. The
// returned bump is the proof nonce callers must present on every access.
func Derive(program Address, tag string, seeds ...[]byte) (Address, uint8) {
	for bump := 255; bump >= 0; bump-- {
		a := deriveWithBump(program, tag, seeds, uint8(bump))
		if a[31] != 0 {
			return a, uint8(bump)
		}
	}
	// 256 consecutive reserved candidates cannot occur with a preimage-
	// resistant hash; treat it as corruption.
	panic("keys: no valid bump for derivation")
}

// Verify recomputes the derivation for (tag, seeds, bump) and compares it
// against supplied. A false result is a hard validation failure upstream.
func Verify(supplied Address, program Address, tag string, bump uint8, seeds ...[]byte) bool {
	if supplied[31] == 0 {
		return false
	}
	a := deriveWithBump(program, tag, seeds, bump)
	return bytes.Equal(a[:], supplied[:])
}

// MarketSeeds returns the seed list for a market account:
// the governing authority and the market id (8-byte little-endian).
func MarketSeeds(authority Address, marketID uint64) [][]byte {
	return [][]byte{authority[:], U64Seed(marketID)}
}

// VaultSeeds returns the seed list for a market's collateral vault.
func VaultSeeds(mint Address, marketID uint64) [][]byte {
	return [][]byte{mint[:], U64Seed(marketID)}
}

// UserSeeds returns the seed list for a trader's margin account.
func UserSeeds(trader Address) [][]byte {
	return [][]byte{trader[:]}
}

// PositionSeeds returns the seed list for a (trader, market) position.
func PositionSeeds(trader Address, marketID uint64) [][]byte {
	return [][]byte{trader[:], U64Seed(marketID)}
}

// U64Seed encodes v as 8 little-endian bytes. Market ids are always encoded
// this way in seeds, regardless of their width on the instruction wire.
func U64Seed(v uint64) []byte {
	return []byte{
		byte(v),
		byte(v >> 8),
		byte(v >> 16),
		byte(v >> 24),
		byte(v >> 32),
		byte(v >> 40),
		byte(v >> 48),
		byte(v >> 56),
	}
}
