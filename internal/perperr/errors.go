// Package perperr defines the closed set of failure kinds the engine can
// return. Every transition either commits fully or fails with exactly one of
// these; callers match with errors.Is and must not rely on message text.
package perperr

import "errors"

var (
	// ErrMissingSignature: the initiating trader account did not sign.
	ErrMissingSignature = errors.New("missing required signature")

	// ErrAddressMismatch: a supplied account does not match the locally
	// recomputed derivation for its namespace and seeds.
	ErrAddressMismatch = errors.New("account address does not match derivation")

	// ErrNotInitialized: market record exists but was never initialized,
	// or is absent entirely.
	ErrNotInitialized = errors.New("market not initialized")

	// ErrAlreadyInitialized: attempt to re-create an existing record.
	ErrAlreadyInitialized = errors.New("account already initialized")

	// ErrInvalidLayout: account blob too small for its record type.
	ErrInvalidLayout = errors.New("account data layout invalid")

	// ErrInvalidPayload: malformed or undersized instruction payload,
	// including a zero size delta.
	ErrInvalidPayload = errors.New("invalid instruction payload")

	// ErrMintMismatch: user-supplied collateral mint disagrees with the
	// market's stored mint.
	ErrMintMismatch = errors.New("collateral mint mismatch")

	// ErrStaleOracleData: feed publish time older than the max age.
	ErrStaleOracleData = errors.New("oracle data stale")

	// ErrOracleFeedMismatch: feed blob carries a different feed id than the
	// one the market expects.
	ErrOracleFeedMismatch = errors.New("oracle feed id mismatch")

	// ErrOracleDataInvalid: undersized feed blob, malformed feed-id hex, or
	// a non-positive raw price.
	ErrOracleDataInvalid = errors.New("oracle data invalid")

	// ErrArithmeticOverflow: any checked add/sub/mul/div overflowed.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrInsufficientMargin: deposited margin below the required initial
	// margin for the new notional.
	ErrInsufficientMargin = errors.New("insufficient margin for position")

	// ErrLeverageExceeded: realized leverage above the market maximum.
	ErrLeverageExceeded = errors.New("leverage exceeds market maximum")

	// ErrInsufficientBalance: the trading fee cannot be covered by the
	// user's aggregate margin balance.
	ErrInsufficientBalance = errors.New("insufficient balance for fee")

	// ErrRegistryFull: the user's 10-slot position registry has no empty
	// slot. This is a protocol-level ceiling, not a resizable buffer.
	ErrRegistryFull = errors.New("position registry full")

	// ErrInvalidArgument: a collaborator was called with an argument that
	// can never be valid (e.g. leverage with zero margin).
	ErrInvalidArgument = errors.New("invalid argument")
)

// Kind returns a short stable label for metrics and the transition log.
// Unrecognized errors report as "internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrMissingSignature):
		return "missing_signature"
	case errors.Is(err, ErrAddressMismatch):
		return "address_mismatch"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, ErrInvalidLayout):
		return "invalid_layout"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrMintMismatch):
		return "mint_mismatch"
	case errors.Is(err, ErrStaleOracleData):
		return "stale_oracle"
	case errors.Is(err, ErrOracleFeedMismatch):
		return "oracle_feed_mismatch"
	case errors.Is(err, ErrOracleDataInvalid):
		return "oracle_data_invalid"
	case errors.Is(err, ErrArithmeticOverflow):
		return "arithmetic_overflow"
	case errors.Is(err, ErrInsufficientMargin):
		return "insufficient_margin"
	case errors.Is(err, ErrLeverageExceeded):
		return "leverage_exceeded"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrRegistryFull):
		return "registry_full"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "internal"
	}
}

// IsDomain reports whether err is one of the closed validation kinds above.
// Domain failures are terminal for a transition; anything else is an
// infrastructure fault and may be retried.
func IsDomain(err error) bool {
	return Kind(err) != "internal"
}
