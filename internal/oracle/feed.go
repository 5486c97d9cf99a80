// Package oracle adapts raw price-feed account blobs into normalized prices.
// Feeds publish signed-exponent fixed-point prices; the adapter rescales
// every accepted price to a single 1e8 fixed decimal scale so downstream
// risk math never branches on exponent sign.
package oracle

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	fpmath "perpcore/internal/math"
	"perpcore/internal/perperr"
)

// PriceScale is the fixed output scale: 8 fractional digits.
const PriceScale = 100_000_000

// targetExponent is the base-10 exponent of PriceScale.
const targetExponent = 8

// FeedID identifies a price feed.
type FeedID [32]byte

// FeedIDFromHex decodes a feed identifier from hexadecimal, with or without
// a leading "0x". Malformed hex or a wrong length is ErrOracleDataInvalid.
func FeedIDFromHex(s string) (FeedID, error) {
	var id FeedID

	switch len(s) {
	case 66:
		if !strings.HasPrefix(s, "0x") {
			return id, perperr.ErrOracleDataInvalid
		}
		s = s[2:]
	case 64:
		// bare form
	default:
		return id, perperr.ErrOracleDataInvalid
	}

	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return id, perperr.ErrOracleDataInvalid
	}
	copy(id[:], raw)
	return id, nil
}

// Verification levels carried by a price update.
const (
	VerificationPartial uint8 = 0
	VerificationFull    uint8 = 1
)

// PriceUpdate is the decoded form of a feed account blob.
type PriceUpdate struct {
	WriteAuthority    [32]byte
	VerificationLevel uint8
	NumSignatures     uint8 // meaningful only for partial verification
	FeedID            FeedID
	Price             int64
	Conf              uint64
	Exponent          int32
	PublishTime       int64
	PrevPublishTime   int64
	EmaPrice          int64
	EmaConf           uint64
	PostedSlot        uint64
}

// UpdateSize is the fixed encoded size of a PriceUpdate blob.
const UpdateSize = 32 + 1 + 1 + 32 + 8 + 8 + 4 + 8 + 8 + 8 + 8 + 8

// ParseUpdate decodes a feed blob, failing with ErrOracleDataInvalid if it
// is undersized. No freshness or identity checks happen here.
func ParseUpdate(b []byte) (*PriceUpdate, error) {
	if len(b) < UpdateSize {
		return nil, perperr.ErrOracleDataInvalid
	}

	u := &PriceUpdate{}
	copy(u.WriteAuthority[:], b[0:32])
	u.VerificationLevel = b[32]
	u.NumSignatures = b[33]
	copy(u.FeedID[:], b[34:66])
	u.Price = int64(binary.LittleEndian.Uint64(b[66:74]))
	u.Conf = binary.LittleEndian.Uint64(b[74:82])
	u.Exponent = int32(binary.LittleEndian.Uint32(b[82:86]))
	u.PublishTime = int64(binary.LittleEndian.Uint64(b[86:94]))
	u.PrevPublishTime = int64(binary.LittleEndian.Uint64(b[94:102]))
	u.EmaPrice = int64(binary.LittleEndian.Uint64(b[102:110]))
	u.EmaConf = binary.LittleEndian.Uint64(b[110:118])
	u.PostedSlot = binary.LittleEndian.Uint64(b[118:126])

	return u, nil
}

// Marshal encodes the update into a fresh UpdateSize blob. Used by tests and
// feed simulators.
func (u *PriceUpdate) Marshal() []byte {
	b := make([]byte, UpdateSize)
	copy(b[0:32], u.WriteAuthority[:])
	b[32] = u.VerificationLevel
	b[33] = u.NumSignatures
	copy(b[34:66], u.FeedID[:])
	binary.LittleEndian.PutUint64(b[66:74], uint64(u.Price))
	binary.LittleEndian.PutUint64(b[74:82], u.Conf)
	binary.LittleEndian.PutUint32(b[82:86], uint32(u.Exponent))
	binary.LittleEndian.PutUint64(b[86:94], uint64(u.PublishTime))
	binary.LittleEndian.PutUint64(b[94:102], uint64(u.PrevPublishTime))
	binary.LittleEndian.PutUint64(b[102:110], uint64(u.EmaPrice))
	binary.LittleEndian.PutUint64(b[110:118], u.EmaConf)
	binary.LittleEndian.PutUint64(b[118:126], u.PostedSlot)
	return b
}

// Normalize rescales the update's raw price to the 1e8 output scale.
// A non-positive raw price is ErrOracleDataInvalid; a price too large to
// represent at the output scale is ErrArithmeticOverflow.
func (u *PriceUpdate) Normalize() (uint64, error) {
	if u.Price <= 0 {
		return 0, perperr.ErrOracleDataInvalid
	}
	raw := uint64(u.Price)

	shift := targetExponent + int64(u.Exponent)
	switch {
	case shift == 0:
		return raw, nil
	case shift > 0:
		mult, err := pow10U64(shift)
		if err != nil {
			return 0, err
		}
		return fpmath.CheckedMulU64(raw, mult)
	default:
		div, err := pow10U64(-shift)
		if err != nil {
			return 0, err
		}
		return raw / div, nil
	}
}

// pow10U64 returns 10^n, failing once the result leaves uint64 range.
func pow10U64(n int64) (uint64, error) {
	if n > 19 {
		return 0, perperr.ErrArithmeticOverflow
	}
	v := uint64(1)
	for i := int64(0); i < n; i++ {
		v *= 10
	}
	return v, nil
}

// Adapter validates and normalizes feed blobs for one expected feed id.
type Adapter struct {
	feedID FeedID
	maxAge int64 // seconds
}

// NewAdapter builds an adapter for the given feed id hex string.
func NewAdapter(feedIDHex string, maxAgeSeconds int64) (*Adapter, error) {
	id, err := FeedIDFromHex(feedIDHex)
	if err != nil {
		return nil, err
	}
	return &Adapter{feedID: id, maxAge: maxAgeSeconds}, nil
}

// AdapterForFeed builds an adapter for an already-decoded feed id.
func AdapterForFeed(id FeedID, maxAgeSeconds int64) *Adapter {
	return &Adapter{feedID: id, maxAge: maxAgeSeconds}
}

// MaxAge returns the staleness budget in seconds.
func (a *Adapter) MaxAge() int64 { return a.maxAge }

// Price decodes blob, checks feed identity and freshness against now, and
// returns the normalized 1e8-scale price.
func (a *Adapter) Price(blob []byte, now int64) (uint64, error) {
	u, err := ParseUpdate(blob)
	if err != nil {
		return 0, err
	}

	if u.FeedID != a.feedID {
		return 0, perperr.ErrOracleFeedMismatch
	}

	age := now - u.PublishTime
	if age > a.maxAge {
		return 0, perperr.ErrStaleOracleData
	}

	return u.Normalize()
}
