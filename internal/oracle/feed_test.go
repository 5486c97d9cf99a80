package oracle

import (
	"errors"
	"testing"

	"perpcore/internal/perperr"
)

const btcFeedHex = "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"

func testUpdate(t *testing.T) *PriceUpdate {
	t.Helper()
	id, err := FeedIDFromHex(btcFeedHex)
	if err != nil {
		t.Fatalf("FeedIDFromHex: %v", err)
	}
	return &PriceUpdate{
		VerificationLevel: VerificationFull,
		FeedID:            id,
		Price:             6_500_000_000_000, // 65000 at expo -8
		Conf:              1_200_000_000,
		Exponent:          -8,
		PublishTime:       1_700_000_000,
		PostedSlot:        250_000_000,
	}
}

// ---------------------------------------------------------------------------
// Feed id parsing
// ---------------------------------------------------------------------------

func TestFeedIDFromHex_AcceptsBareAndPrefixed(t *testing.T) {
	bare, err := FeedIDFromHex(btcFeedHex)
	if err != nil {
		t.Fatalf("bare: %v", err)
	}
	prefixed, err := FeedIDFromHex("0x" + btcFeedHex)
	if err != nil {
		t.Fatalf("prefixed: %v", err)
	}
	if bare != prefixed {
		t.Fatal("bare and 0x-prefixed forms decoded differently")
	}
}

func TestFeedIDFromHex_RejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"abcd",
		btcFeedHex[:63],
		"zz" + btcFeedHex[2:],
		"1x" + btcFeedHex, // wrong prefix at prefixed length
	}
	for _, in := range cases {
		if _, err := FeedIDFromHex(in); !errors.Is(err, perperr.ErrOracleDataInvalid) {
			t.Errorf("FeedIDFromHex(%q) err = %v, want ErrOracleDataInvalid", in, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Blob codec
// ---------------------------------------------------------------------------

func TestParseUpdate_RoundTrip(t *testing.T) {
	want := testUpdate(t)
	got, err := ParseUpdate(want.Marshal())
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if *got != *want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestParseUpdate_ShortBlob(t *testing.T) {
	blob := testUpdate(t).Marshal()
	if _, err := ParseUpdate(blob[:UpdateSize-1]); !errors.Is(err, perperr.ErrOracleDataInvalid) {
		t.Fatalf("err = %v, want ErrOracleDataInvalid", err)
	}
}

// ---------------------------------------------------------------------------
// Normalization
// ---------------------------------------------------------------------------

func TestNormalize_ExponentAtScale(t *testing.T) {
	u := testUpdate(t)
	got, err := u.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got != 6_500_000_000_000 {
		t.Fatalf("price = %d, want 6500000000000", got)
	}
}

func TestNormalize_ExponentBelowScale(t *testing.T) {
	u := testUpdate(t)
	u.Price = 65_000
	u.Exponent = 0
	got, err := u.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got != 65_000*PriceScale {
		t.Fatalf("price = %d, want %d", got, uint64(65_000)*PriceScale)
	}
}

func TestNormalize_ExponentAboveScale(t *testing.T) {
	u := testUpdate(t)
	u.Price = 6_500_000_000_000_000
	u.Exponent = -11
	got, err := u.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	// three excess fractional digits truncate off
	if got != 6_500_000_000_000 {
		t.Fatalf("price = %d, want 6500000000000", got)
	}
}

func TestNormalize_NonPositivePrice(t *testing.T) {
	for _, p := range []int64{0, -1} {
		u := testUpdate(t)
		u.Price = p
		if _, err := u.Normalize(); !errors.Is(err, perperr.ErrOracleDataInvalid) {
			t.Errorf("price %d: err = %v, want ErrOracleDataInvalid", p, err)
		}
	}
}

func TestNormalize_Overflow(t *testing.T) {
	u := testUpdate(t)
	u.Price = 1 << 62
	u.Exponent = 4
	if _, err := u.Normalize(); !errors.Is(err, perperr.ErrArithmeticOverflow) {
		t.Fatalf("err = %v, want ErrArithmeticOverflow", err)
	}
}

// ---------------------------------------------------------------------------
// Adapter gate
// ---------------------------------------------------------------------------

func TestAdapter_FreshPriceAccepted(t *testing.T) {
	a, err := NewAdapter(btcFeedHex, 60)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	u := testUpdate(t)
	got, err := a.Price(u.Marshal(), u.PublishTime+60)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if got != 6_500_000_000_000 {
		t.Fatalf("price = %d, want 6500000000000", got)
	}
}

func TestAdapter_StaleUpdateRejected(t *testing.T) {
	a, err := NewAdapter(btcFeedHex, 60)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	u := testUpdate(t)
	if _, err := a.Price(u.Marshal(), u.PublishTime+61); !errors.Is(err, perperr.ErrStaleOracleData) {
		t.Fatalf("err = %v, want ErrStaleOracleData", err)
	}
}

func TestAdapter_FeedMismatchRejected(t *testing.T) {
	a, err := NewAdapter(btcFeedHex, 60)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	u := testUpdate(t)
	u.FeedID[0] ^= 0xff
	if _, err := a.Price(u.Marshal(), u.PublishTime); !errors.Is(err, perperr.ErrOracleFeedMismatch) {
		t.Fatalf("err = %v, want ErrOracleFeedMismatch", err)
	}
}
