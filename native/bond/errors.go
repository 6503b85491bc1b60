package bond

import "errors"

// Error taxonomy for the bond market. Every rejection leaves state unchanged;
// retries are the caller's responsibility.
var (
	// ErrInvalidParams rejects market creation with malformed parameters.
	ErrInvalidParams = errors.New("bond: invalid market parameters")
	// ErrUnknownMarket is returned when the market id has never been created.
	ErrUnknownMarket = errors.New("bond: market not found")
	// ErrMarketClosed rejects purchases once capacity is exhausted, the
	// conclusion has passed, the debt ceiling was breached or the owner
	// closed the market.
	ErrMarketClosed = errors.New("bond: market closed")
	// ErrSlippage rejects a purchase whose computed payout falls below the
	// buyer's floor.
	ErrSlippage = errors.New("bond: payout below minimum")
	// ErrInsufficientCapacity rejects a purchase that would overshoot the
	// remaining capacity. Purchases are never partially filled.
	ErrInsufficientCapacity = errors.New("bond: insufficient market capacity")
	// ErrNotMatured rejects redemption before the claim maturity.
	ErrNotMatured = errors.New("bond: claim not matured")
	// ErrInsufficientBalance rejects debits exceeding the caller's balance.
	ErrInsufficientBalance = errors.New("bond: insufficient balance")
	// ErrUnauthorized rejects administrative calls from non-owners and
	// market registration from unregistered auctioneers.
	ErrUnauthorized = errors.New("bond: unauthorized")
	// ErrCallbackFailed aborts a purchase whose settlement callback
	// signalled failure.
	ErrCallbackFailed = errors.New("bond: purchase callback failed")
	// ErrUnknownClaim is returned when no instrument exists for a claim id.
	ErrUnknownClaim = errors.New("bond: claim not found")
	// ErrUnknownToken rejects markets referencing unregistered assets.
	ErrUnknownToken = errors.New("bond: token not registered")
)
