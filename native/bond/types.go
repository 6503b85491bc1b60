package bond

import (
	"math/big"

	"bondmarket/crypto"
)

// TellerKind selects the claim representation a market settles through.
type TellerKind uint8

const (
	// TellerFixedTerm vests each purchase for a fixed duration; claims with
	// the same (payout token, maturity) pool into one fungible balance.
	TellerFixedTerm TellerKind = iota + 1
	// TellerFixedExpiry vests every purchase to one absolute expiry,
	// rounded up to a day boundary so same-day maturities share a single
	// instrument.
	TellerFixedExpiry
)

func (k TellerKind) String() string {
	switch k {
	case TellerFixedTerm:
		return "fixed-term"
	case TellerFixedExpiry:
		return "fixed-expiry"
	default:
		return "unknown"
	}
}

// TokenMeta describes a registered fungible asset. Decimals are informational
// for formatting; the price math relies on the per-market scale adjustment.
type TokenMeta struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// MarketParams carries the creator-supplied configuration for a new market.
type MarketParams struct {
	PayoutToken string
	QuoteToken  string
	// Callback is an opaque handle resolved against the auctioneer's
	// callback registry, or empty for none.
	Callback        string
	Kind            TellerKind
	CapacityInQuote bool
	Capacity        *big.Int
	// InitialPrice and MinPrice are fixed-point values carrying
	// 36+ScaleAdjustment+(quoteDecimals-payoutDecimals) decimals, exactly
	// as formatted by the seller's tooling.
	InitialPrice *big.Int
	MinPrice     *big.Int
	// DebtBuffer is the tolerated excess over the initial target debt in
	// hundredths of a basis point (denominator 1e5); breaching the derived
	// ceiling closes the market.
	DebtBuffer uint64
	// Vesting is a duration in seconds for fixed-term markets or an
	// absolute unix timestamp for fixed-expiry markets. Zero means instant
	// delivery.
	Vesting         int64
	Conclusion      int64
	DepositInterval int64
	ScaleAdjustment int8
}

// Market is the auctioneer-owned record backing one live bond sale.
type Market struct {
	ID          uint64
	Owner       crypto.Address
	PayoutToken string
	QuoteToken  string
	Callback    string
	Kind        TellerKind

	CapacityInQuote bool
	Capacity        *big.Int
	TotalDebt       *big.Int
	MaxDebt         *big.Int
	MinPrice        *big.Int
	ControlVariable *big.Int
	// Scale is 10^(36+ScaleAdjustment), fixed at creation.
	Scale           *big.Int
	ScaleAdjustment int8

	Vesting           int64
	Conclusion        int64
	LastDecay         int64
	DepositInterval   int64
	DebtDecayInterval int64

	// Closed is the one-way live->closed transition; it is set by owner
	// action, capacity exhaustion or a debt ceiling breach.
	Closed bool

	Sold      *big.Int
	Purchased *big.Int
}

// Copy returns a deep copy so callers cannot mutate shared state.
func (m *Market) Copy() *Market {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Capacity = bigCopy(m.Capacity)
	clone.TotalDebt = bigCopy(m.TotalDebt)
	clone.MaxDebt = bigCopy(m.MaxDebt)
	clone.MinPrice = bigCopy(m.MinPrice)
	clone.ControlVariable = bigCopy(m.ControlVariable)
	clone.Scale = bigCopy(m.Scale)
	clone.Sold = bigCopy(m.Sold)
	clone.Purchased = bigCopy(m.Purchased)
	return &clone
}

// LiveAt reports whether the market accepts purchases at the given time.
func (m *Market) LiveAt(now int64) bool {
	if m == nil || m.Closed {
		return false
	}
	if m.Capacity == nil || m.Capacity.Sign() <= 0 {
		return false
	}
	return now <= m.Conclusion
}

func (m *Market) normalize() {
	m.Capacity = bigZeroIfNil(m.Capacity)
	m.TotalDebt = bigZeroIfNil(m.TotalDebt)
	m.MaxDebt = bigZeroIfNil(m.MaxDebt)
	m.MinPrice = bigZeroIfNil(m.MinPrice)
	m.ControlVariable = bigZeroIfNil(m.ControlVariable)
	m.Scale = bigZeroIfNil(m.Scale)
	m.Sold = bigZeroIfNil(m.Sold)
	m.Purchased = bigZeroIfNil(m.Purchased)
}

// ClaimInstrument is the shared record for every claim minted under one
// (payout token, maturity) key. Issued and Redeemed track cumulative custody
// movements; a fully redeemed instrument idles at zero and may be minted into
// again.
type ClaimInstrument struct {
	ID         [32]byte
	Underlying string
	Maturity   int64
	Issued     *big.Int
	Redeemed   *big.Int
}

// Copy returns a deep copy of the instrument.
func (c *ClaimInstrument) Copy() *ClaimInstrument {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Issued = bigCopy(c.Issued)
	clone.Redeemed = bigCopy(c.Redeemed)
	return &clone
}

// Outstanding returns issued minus redeemed, the aggregate payout amount the
// custody pool still owes for this instrument.
func (c *ClaimInstrument) Outstanding() *big.Int {
	if c == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(bigZeroIfNil(c.Issued), bigZeroIfNil(c.Redeemed))
}

func bigCopy(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
