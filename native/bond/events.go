package bond

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"bondmarket/core/types"
)

const (
	EventTypeMarketCreated = "bond.market.created"
	EventTypeMarketClosed  = "bond.market.closed"
	EventTypeBonded        = "bond.bonded"
	EventTypeRedeemed      = "bond.redeemed"
	EventTypeTokenDeployed = "bond.token.deployed"
)

type bondEvent struct {
	evt *types.Event
}

func (e bondEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e bondEvent) Event() *types.Event { return e.evt }

// NewMarketCreatedEvent returns the canonical payload for a newly created
// market: id, traded pair, vesting and the formatted initial price.
func NewMarketCreatedEvent(m *Market, initialPrice *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeMarketCreated,
		Attributes: map[string]string{
			"id":           strconv.FormatUint(m.ID, 10),
			"payoutToken":  m.PayoutToken,
			"quoteToken":   m.QuoteToken,
			"vesting":      strconv.FormatInt(m.Vesting, 10),
			"initialPrice": bigString(initialPrice),
		},
	}
}

// NewMarketClosedEvent marks the one-way transition out of the live state.
func NewMarketClosedEvent(id uint64, reason string) *types.Event {
	return &types.Event{
		Type: EventTypeMarketClosed,
		Attributes: map[string]string{
			"id":     strconv.FormatUint(id, 10),
			"reason": reason,
		},
	}
}

// NewBondedEvent records a settled purchase.
func NewBondedEvent(id uint64, referrer string, amount, payout *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeBonded,
		Attributes: map[string]string{
			"id":       strconv.FormatUint(id, 10),
			"referrer": referrer,
			"amount":   bigString(amount),
			"payout":   bigString(payout),
		},
	}
}

// NewRedeemedEvent records a matured claim redemption.
func NewRedeemedEvent(claimID [32]byte, redeemer string, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRedeemed,
		Attributes: map[string]string{
			"claimId":  hex.EncodeToString(claimID[:]),
			"redeemer": redeemer,
			"amount":   bigString(amount),
		},
	}
}

// NewTokenDeployedEvent records the lazy instantiation of a fixed-expiry
// instrument.
func NewTokenDeployedEvent(inst *ClaimInstrument) *types.Event {
	return &types.Event{
		Type: EventTypeTokenDeployed,
		Attributes: map[string]string{
			"claimId":    hex.EncodeToString(inst.ID[:]),
			"underlying": inst.Underlying,
			"maturity":   strconv.FormatInt(inst.Maturity, 10),
		},
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
