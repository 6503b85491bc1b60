package bond

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"bondmarket/core/events"
	"bondmarket/core/types"
	"bondmarket/crypto"
	nativecommon "bondmarket/native/common"
)

var (
	errTellerNilState   = errors.New("bond teller: state not configured")
	errTellerNilAuction = errors.New("bond teller: auctioneer not configured")
	errCustodyDrained   = errors.New("bond teller: custody pool short of outstanding claims")
)

type tellerState interface {
	ledgerState
	MarketGet(id uint64) (*Market, bool, error)
	TokenGet(symbol string) (*TokenMeta, bool, error)
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	RewardGet(addr crypto.Address, asset string) (*big.Int, error)
	RewardPut(addr crypto.Address, asset string, amount *big.Int) error
}

// AuctionProvider is the teller's view of the auctioneer: a non-mutating
// quote used for pre-flight checks and the committing purchase itself.
type AuctionProvider interface {
	PayoutFor(id uint64, amount *big.Int, now int64) (*big.Int, *big.Int, error)
	PurchaseFor(id uint64, amount, minAmountOut *big.Int, now int64) (*big.Int, *big.Int, error)
}

// PurchaseReceipt reports a settled purchase. ClaimID is nil when the payout
// was delivered immediately.
type PurchaseReceipt struct {
	Payout   *big.Int
	Price    *big.Int
	ClaimID  *[32]byte
	Maturity int64
}

// maturitySchedule converts a market's vesting configuration into the claim
// maturity for a purchase settling now.
type maturitySchedule interface {
	maturity(now, vesting int64) int64
}

// fixedTermSchedule vests each purchase for a fixed duration from now.
type fixedTermSchedule struct{}

func (fixedTermSchedule) maturity(now, vesting int64) int64 { return now + vesting }

// fixedExpirySchedule vests every purchase to one absolute expiry, rounded up
// to the next day boundary so same-day maturities pool into one instrument.
type fixedExpirySchedule struct{}

func (fixedExpirySchedule) maturity(_, vesting int64) int64 { return ceilDay(vesting) }

func scheduleFor(kind TellerKind) maturitySchedule {
	if kind == TellerFixedExpiry {
		return fixedExpirySchedule{}
	}
	return fixedTermSchedule{}
}

func ceilDay(ts int64) int64 {
	rem := ts % daySeconds
	if rem == 0 {
		return ts
	}
	return ts - rem + daySeconds
}

// Teller moves tokens: it collects the quote leg of a purchase, routes fees,
// delivers the payout immediately or through a claim instrument, and redeems
// matured claims out of its custody pool.
type Teller struct {
	state            tellerState
	ledger           *ClaimLedger
	auctioneer       AuctionProvider
	custody          crypto.Address
	protocolFeeOwner crypto.Address
	fees             FeeConfig
	emitter          events.Emitter
	pauses           nativecommon.PauseView
	nowFn            func() int64
}

// NewTeller constructs a teller holding custody under the given module
// address and routing protocol fees to the configured owner.
func NewTeller(custody, protocolFeeOwner crypto.Address, fees FeeConfig) *Teller {
	return &Teller{
		custody:          custody,
		protocolFeeOwner: protocolFeeOwner,
		fees:             fees,
		emitter:          events.NoopEmitter{},
		nowFn:            func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the teller and its claim ledger to the persistence layer.
func (t *Teller) SetState(state tellerState) {
	t.state = state
	t.ledger = NewClaimLedger(state)
}

// SetAuctioneer wires the pricing engine consulted on every purchase.
func (t *Teller) SetAuctioneer(auctioneer AuctionProvider) { t.auctioneer = auctioneer }

// SetPauses installs the operator pause switches.
func (t *Teller) SetPauses(p nativecommon.PauseView) { t.pauses = p }

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (t *Teller) SetNowFunc(now func() int64) {
	if now == nil {
		t.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	t.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (t *Teller) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		t.emitter = events.NoopEmitter{}
		return
	}
	t.emitter = emitter
}

func (t *Teller) emit(event *types.Event) {
	if t == nil || t.emitter == nil || event == nil {
		return
	}
	t.emitter.Emit(bondEvent{evt: event})
}

// Ledger exposes the claim ledger for read paths.
func (t *Teller) Ledger() *ClaimLedger { return t.ledger }

// Purchase settles a bond purchase end to end: fee deduction on the quote
// leg, auction pricing, proceeds to the market owner and payout delivery
// (instant or vested into a claim). Every precondition is checked before any
// balance moves so a rejection leaves no partial state.
func (t *Teller) Purchase(buyer, recipient, referrer crypto.Address, marketID uint64, amount, minAmountOut *big.Int) (*PurchaseReceipt, error) {
	if t == nil || t.state == nil || t.ledger == nil {
		return nil, errTellerNilState
	}
	if t.auctioneer == nil {
		return nil, errTellerNilAuction
	}
	if err := nativecommon.Guard(t.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidParams)
	}
	if recipient.IsZero() {
		recipient = buyer
	}
	market, ok, err := t.state.MarketGet(marketID)
	if err != nil {
		return nil, err
	}
	if !ok || market == nil {
		return nil, ErrUnknownMarket
	}
	market.normalize()
	now := t.nowFn()

	protocolFee := feeAmount(amount, t.fees.ProtocolFeeBps)
	referrerFee := big.NewInt(0)
	if !referrer.IsZero() {
		referrerFee = feeAmount(amount, t.fees.ReferrerFeeBps)
	}
	net := new(big.Int).Sub(amount, protocolFee)
	net.Sub(net, referrerFee)
	if net.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount does not cover fees", ErrInvalidParams)
	}

	// Pre-flight with the exact settlement arithmetic so the committing
	// purchase below cannot leave the market mutated and the transfers
	// unfunded.
	payout, _, err := t.auctioneer.PayoutFor(marketID, net, now)
	if err != nil {
		return nil, err
	}
	if err := t.requireBalance(buyer, market.QuoteToken, amount); err != nil {
		return nil, err
	}
	if err := t.requireBalance(market.Owner, market.PayoutToken, payout); err != nil {
		return nil, err
	}

	payout, price, err := t.auctioneer.PurchaseFor(marketID, net, minAmountOut, now)
	if err != nil {
		return nil, err
	}

	// Quote leg: net proceeds to the owner, fees into custody with reward
	// accrual for their destinations.
	if err := t.transfer(buyer, market.Owner, market.QuoteToken, net); err != nil {
		return nil, err
	}
	if protocolFee.Sign() > 0 {
		if err := t.collectFee(buyer, t.protocolFeeOwner, market.QuoteToken, protocolFee); err != nil {
			return nil, err
		}
	}
	if referrerFee.Sign() > 0 {
		if err := t.collectFee(buyer, referrer, market.QuoteToken, referrerFee); err != nil {
			return nil, err
		}
	}

	receipt := &PurchaseReceipt{Payout: payout, Price: price}
	maturity := int64(0)
	if market.Vesting > 0 {
		maturity = scheduleFor(market.Kind).maturity(now, market.Vesting)
	}
	if maturity <= now {
		// Instant delivery; no claim instrument is created.
		if err := t.transfer(market.Owner, recipient, market.PayoutToken, payout); err != nil {
			return nil, err
		}
	} else {
		if err := t.transfer(market.Owner, t.custody, market.PayoutToken, payout); err != nil {
			return nil, err
		}
		inst, created, err := t.ledger.MintTracked(market.PayoutToken, maturity, recipient, payout)
		if err != nil {
			return nil, err
		}
		if created {
			t.emit(NewTokenDeployedEvent(inst))
		}
		receipt.ClaimID = &inst.ID
		receipt.Maturity = inst.Maturity
	}
	referrerLabel := ""
	if !referrer.IsZero() {
		referrerLabel = referrer.String()
	}
	t.emit(NewBondedEvent(marketID, referrerLabel, amount, payout))
	return receipt, nil
}

// Redeem burns a matured claim and releases the payout held in custody. The
// maturity gate is checked before the balance so "too early" and "too poor"
// stay distinguishable.
func (t *Teller) Redeem(caller crypto.Address, claimID [32]byte, amount *big.Int) (*big.Int, error) {
	if t == nil || t.state == nil || t.ledger == nil {
		return nil, errTellerNilState
	}
	if err := nativecommon.Guard(t.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidParams)
	}
	inst, ok, err := t.ledger.Lookup(claimID)
	if err != nil {
		return nil, err
	}
	if !ok || inst == nil {
		return nil, ErrUnknownClaim
	}
	if t.nowFn() < inst.Maturity {
		return nil, ErrNotMatured
	}
	balance, err := t.ledger.BalanceOf(claimID, caller)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}
	// The custody pool must always cover the burn; a shortfall means the
	// conservation invariant was broken upstream.
	custodyAcc, err := t.loadAccount(t.custody)
	if err != nil {
		return nil, err
	}
	if custodyAcc.BalanceOf(inst.Underlying).Cmp(amount) < 0 {
		return nil, errCustodyDrained
	}
	if _, err := t.ledger.Burn(claimID, caller, amount); err != nil {
		return nil, err
	}
	if err := t.transfer(t.custody, caller, inst.Underlying, amount); err != nil {
		return nil, err
	}
	t.emit(NewRedeemedEvent(claimID, caller.String(), amount))
	return new(big.Int).Set(amount), nil
}

// BondToken returns the fixed-expiry instrument for the given payout token
// and expiry, creating it on first use. The expiry is rounded up to the day
// boundary, matching the key purchases mint under.
func (t *Teller) BondToken(underlying string, expiry int64) (*ClaimInstrument, error) {
	if t == nil || t.state == nil || t.ledger == nil {
		return nil, errTellerNilState
	}
	if _, ok, err := t.state.TokenGet(underlying); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, underlying)
	}
	inst, created, err := t.ledger.Instrument(underlying, ceilDay(expiry))
	if err != nil {
		return nil, err
	}
	if created {
		t.emit(NewTokenDeployedEvent(inst))
	}
	return inst, nil
}

// ClaimFees transfers the caller's accrued fee rewards for the given assets
// out of custody.
func (t *Teller) ClaimFees(caller crypto.Address, assets []string) (map[string]*big.Int, error) {
	if t == nil || t.state == nil {
		return nil, errTellerNilState
	}
	if err := nativecommon.Guard(t.pauses, moduleName); err != nil {
		return nil, err
	}
	claimed := make(map[string]*big.Int, len(assets))
	for _, asset := range assets {
		reward, err := t.state.RewardGet(caller, asset)
		if err != nil {
			return nil, err
		}
		reward = bigZeroIfNil(reward)
		if reward.Sign() == 0 {
			continue
		}
		if err := t.state.RewardPut(caller, asset, big.NewInt(0)); err != nil {
			return nil, err
		}
		if err := t.transfer(t.custody, caller, asset, reward); err != nil {
			return nil, err
		}
		claimed[asset] = reward
	}
	return claimed, nil
}

// RewardOf reports the unclaimed fee rewards accrued for an address.
func (t *Teller) RewardOf(addr crypto.Address, asset string) (*big.Int, error) {
	if t == nil || t.state == nil {
		return nil, errTellerNilState
	}
	reward, err := t.state.RewardGet(addr, asset)
	if err != nil {
		return nil, err
	}
	return bigZeroIfNil(reward), nil
}

func feeAmount(amount *big.Int, bps uint64) *big.Int {
	if bps == 0 {
		return big.NewInt(0)
	}
	return mulDiv(amount, new(big.Int).SetUint64(bps), big.NewInt(feeDenominator))
}

func (t *Teller) collectFee(from, beneficiary crypto.Address, asset string, amount *big.Int) error {
	if err := t.transfer(from, t.custody, asset, amount); err != nil {
		return err
	}
	reward, err := t.state.RewardGet(beneficiary, asset)
	if err != nil {
		return err
	}
	return t.state.RewardPut(beneficiary, asset, new(big.Int).Add(bigZeroIfNil(reward), amount))
}

func (t *Teller) requireBalance(addr crypto.Address, asset string, amount *big.Int) error {
	acc, err := t.loadAccount(addr)
	if err != nil {
		return err
	}
	if acc.BalanceOf(asset).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (t *Teller) loadAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := t.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = types.NewAccount()
	}
	return acc, nil
}

// transfer debits one account and credits another, persisting both. Transfers
// of zero are no-ops; a short balance aborts without touching either side.
func (t *Teller) transfer(from, to crypto.Address, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	fromAcc, err := t.loadAccount(from)
	if err != nil {
		return err
	}
	balance := fromAcc.BalanceOf(asset)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.SetBalance(asset, new(big.Int).Sub(balance, amount))
	if err := t.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	toAcc, err := t.loadAccount(to)
	if err != nil {
		return err
	}
	toAcc.SetBalance(asset, new(big.Int).Add(toAcc.BalanceOf(asset), amount))
	return t.state.PutAccount(to, toAcc)
}
