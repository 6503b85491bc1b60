package bond

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"bondmarket/core/events"
	"bondmarket/core/types"
	"bondmarket/crypto"
	nativecommon "bondmarket/native/common"
)

var (
	errAuctioneerNilState = errors.New("bond auctioneer: state not configured")
	errNilRegistry        = errors.New("bond auctioneer: market registry not configured")
)

type auctioneerState interface {
	MarketGet(id uint64) (*Market, bool, error)
	MarketPut(m *Market) error
	TokenGet(symbol string) (*TokenMeta, bool, error)
}

// Registry is the external aggregator boundary: it assigns market identifiers
// and records which auctioneer owns each id.
type Registry interface {
	RegisterMarket(auctioneer, payoutToken, quoteToken string) (uint64, error)
}

// PurchaseCallback is invoked on every settled purchase of a market that
// configured one. A returned error aborts the purchase.
type PurchaseCallback interface {
	OnPurchase(marketID uint64, quoteAmount, payout *big.Int) error
}

// Auctioneer owns market records and runs the sequential Dutch auction:
// purchases push debt (and therefore price) up, elapsed time decays it back
// toward the configured pace.
type Auctioneer struct {
	name      string
	state     auctioneerState
	registry  Registry
	emitter   events.Emitter
	callbacks map[string]PurchaseCallback
	pauses    nativecommon.PauseView
	nowFn     func() int64
}

// NewAuctioneer constructs an auctioneer registered under the given handle.
func NewAuctioneer(name string) *Auctioneer {
	return &Auctioneer{
		name:      strings.TrimSpace(name),
		emitter:   events.NoopEmitter{},
		callbacks: make(map[string]PurchaseCallback),
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// Name returns the handle this auctioneer registers markets under.
func (a *Auctioneer) Name() string { return a.name }

// SetState wires the auctioneer to the external persistence layer.
func (a *Auctioneer) SetState(state auctioneerState) { a.state = state }

// SetRegistry wires the external market registry consulted at creation time.
func (a *Auctioneer) SetRegistry(registry Registry) { a.registry = registry }

// SetPauses installs the operator pause switches.
func (a *Auctioneer) SetPauses(p nativecommon.PauseView) { a.pauses = p }

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (a *Auctioneer) SetNowFunc(now func() int64) {
	if now == nil {
		a.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	a.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (a *Auctioneer) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		a.emitter = events.NoopEmitter{}
		return
	}
	a.emitter = emitter
}

// RegisterCallback binds a callback implementation to an opaque handle that
// markets reference at creation time.
func (a *Auctioneer) RegisterCallback(handle string, cb PurchaseCallback) {
	handle = strings.TrimSpace(handle)
	if handle == "" || cb == nil {
		return
	}
	a.callbacks[handle] = cb
}

func (a *Auctioneer) emit(event *types.Event) {
	if a == nil || a.emitter == nil || event == nil {
		return
	}
	a.emitter.Emit(bondEvent{evt: event})
}

// Now returns the auctioneer's current clock reading.
func (a *Auctioneer) Now() int64 { return a.nowFn() }

// CreateMarket validates the supplied parameters, derives the control
// variable, target debt and debt ceiling, registers the market id with the
// registry and persists the record. Nothing is created on a validation error.
func (a *Auctioneer) CreateMarket(owner crypto.Address, params MarketParams) (uint64, error) {
	if a == nil || a.state == nil {
		return 0, errAuctioneerNilState
	}
	if a.registry == nil {
		return 0, errNilRegistry
	}
	if err := nativecommon.Guard(a.pauses, moduleName); err != nil {
		return 0, err
	}
	now := a.nowFn()
	if err := a.validateParams(owner, params, now); err != nil {
		return 0, err
	}

	scale := tokenScale(params.ScaleAdjustment)
	capacityInPayout := new(big.Int).Set(params.Capacity)
	if params.CapacityInQuote {
		capacityInPayout = mulDiv(params.Capacity, scale, params.InitialPrice)
	}
	duration := params.Conclusion - now
	targetDebt := mulDiv(capacityInPayout, big.NewInt(params.DepositInterval), big.NewInt(duration))
	if targetDebt.Sign() <= 0 {
		return 0, fmt.Errorf("%w: capacity too small for market duration", ErrInvalidParams)
	}
	controlVariable := mulDiv(params.InitialPrice, scale, targetDebt)
	maxDebt := new(big.Int).Add(targetDebt, mulDiv(targetDebt, new(big.Int).SetUint64(params.DebtBuffer), big.NewInt(debtBufferDenominator)))

	decayInterval := int64(debtDecayIntervals) * params.DepositInterval
	if decayInterval < minDebtDecayInterval {
		decayInterval = minDebtDecayInterval
	}

	// The registry commits the id before the market record lands. A put
	// failure below leaves the id routed but unknown; market scans skip
	// such ids.
	id, err := a.registry.RegisterMarket(a.name, params.PayoutToken, params.QuoteToken)
	if err != nil {
		return 0, fmt.Errorf("bond auctioneer: register market: %w", err)
	}

	market := &Market{
		ID:                id,
		Owner:             owner,
		PayoutToken:       params.PayoutToken,
		QuoteToken:        params.QuoteToken,
		Callback:          strings.TrimSpace(params.Callback),
		Kind:              params.Kind,
		CapacityInQuote:   params.CapacityInQuote,
		Capacity:          new(big.Int).Set(params.Capacity),
		TotalDebt:         targetDebt,
		MaxDebt:           maxDebt,
		MinPrice:          new(big.Int).Set(params.MinPrice),
		ControlVariable:   controlVariable,
		Scale:             scale,
		ScaleAdjustment:   params.ScaleAdjustment,
		Vesting:           params.Vesting,
		Conclusion:        params.Conclusion,
		LastDecay:         now,
		DepositInterval:   params.DepositInterval,
		DebtDecayInterval: decayInterval,
		Sold:              big.NewInt(0),
		Purchased:         big.NewInt(0),
	}
	if err := a.state.MarketPut(market); err != nil {
		return 0, err
	}
	a.emit(NewMarketCreatedEvent(market, params.InitialPrice))
	return id, nil
}

func (a *Auctioneer) validateParams(owner crypto.Address, params MarketParams, now int64) error {
	if owner.IsZero() {
		return fmt.Errorf("%w: owner required", ErrInvalidParams)
	}
	payout := strings.TrimSpace(params.PayoutToken)
	quote := strings.TrimSpace(params.QuoteToken)
	if payout == "" || quote == "" {
		return fmt.Errorf("%w: payout and quote tokens required", ErrInvalidParams)
	}
	if payout == quote {
		return fmt.Errorf("%w: payout and quote tokens must differ", ErrInvalidParams)
	}
	for _, symbol := range []string{payout, quote} {
		if _, ok, err := a.state.TokenGet(symbol); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
		}
	}
	if params.Capacity == nil || params.Capacity.Sign() <= 0 {
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidParams)
	}
	if params.MinPrice == nil || params.MinPrice.Sign() <= 0 {
		return fmt.Errorf("%w: minimum price must be positive", ErrInvalidParams)
	}
	if params.InitialPrice == nil || params.InitialPrice.Cmp(params.MinPrice) <= 0 {
		return fmt.Errorf("%w: initial price must exceed minimum price", ErrInvalidParams)
	}
	if params.DebtBuffer == 0 {
		return fmt.Errorf("%w: debt buffer must be positive", ErrInvalidParams)
	}
	if params.Conclusion <= now {
		return fmt.Errorf("%w: conclusion must be in the future", ErrInvalidParams)
	}
	if params.DepositInterval <= 0 {
		return fmt.Errorf("%w: deposit interval must be positive", ErrInvalidParams)
	}
	if params.DepositInterval > params.Conclusion-now {
		return fmt.Errorf("%w: deposit interval exceeds market duration", ErrInvalidParams)
	}
	if params.ScaleAdjustment > maxScaleAdjustment || params.ScaleAdjustment < -maxScaleAdjustment {
		return fmt.Errorf("%w: scale adjustment out of range", ErrInvalidParams)
	}
	switch params.Kind {
	case TellerFixedTerm:
		if params.Vesting < 0 || params.Vesting > maxFixedTermVesting {
			return fmt.Errorf("%w: fixed-term vesting out of range", ErrInvalidParams)
		}
	case TellerFixedExpiry:
		if params.Vesting != 0 && params.Vesting <= now {
			return fmt.Errorf("%w: expiry must be in the future", ErrInvalidParams)
		}
	default:
		return fmt.Errorf("%w: unknown teller kind", ErrInvalidParams)
	}
	return nil
}

// currentDebt applies the linear decay accumulated since the last purchase.
// The full excess decays away over one debt decay interval; debt never goes
// negative.
func currentDebt(m *Market, now int64) *big.Int {
	total := bigZeroIfNil(m.TotalDebt)
	elapsed := now - m.LastDecay
	if elapsed <= 0 {
		return new(big.Int).Set(total)
	}
	if elapsed >= m.DebtDecayInterval {
		return big.NewInt(0)
	}
	decay := mulDiv(total, big.NewInt(elapsed), big.NewInt(m.DebtDecayInterval))
	return new(big.Int).Sub(total, decay)
}

// priceAt computes controlVariable * debt / scale, rounded up, floored at the
// market minimum. Zero elapsed time therefore reports the creation price
// exactly.
func priceAt(m *Market, now int64) *big.Int {
	price := mulDivUp(m.ControlVariable, currentDebt(m, now), m.Scale)
	if price.Cmp(m.MinPrice) < 0 {
		price = new(big.Int).Set(m.MinPrice)
	}
	return price
}

// MarketPrice returns the current decayed price for a live market. It never
// mutates stored state; decay is committed only by purchases.
func (a *Auctioneer) MarketPrice(id uint64) (*big.Int, error) {
	return a.MarketPriceAt(id, a.nowFn())
}

// MarketPriceAt is MarketPrice evaluated at an explicit instant.
func (a *Auctioneer) MarketPriceAt(id uint64, now int64) (*big.Int, error) {
	m, err := a.loadMarket(id)
	if err != nil {
		return nil, err
	}
	if !m.LiveAt(now) {
		return nil, ErrMarketClosed
	}
	return priceAt(m, now), nil
}

// PayoutFor quotes the payout a purchase of amount quote tokens would settle
// at without committing any state. The arithmetic is identical to PurchaseFor
// so pre-flight checks observe the exact settlement value.
func (a *Auctioneer) PayoutFor(id uint64, amount *big.Int, now int64) (*big.Int, *big.Int, error) {
	m, err := a.loadMarket(id)
	if err != nil {
		return nil, nil, err
	}
	return quoteMarket(m, amount, now)
}

func quoteMarket(m *Market, amount *big.Int, now int64) (*big.Int, *big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: amount must be positive", ErrInvalidParams)
	}
	if !m.LiveAt(now) {
		return nil, nil, ErrMarketClosed
	}
	price := priceAt(m, now)
	payout := mulDiv(amount, m.Scale, price)
	consumed := payout
	if m.CapacityInQuote {
		consumed = amount
	}
	if consumed.Cmp(m.Capacity) > 0 {
		return nil, nil, ErrInsufficientCapacity
	}
	return payout, price, nil
}

// PurchaseFor executes the sale side of a purchase: price the net quote
// amount, enforce slippage and capacity, then commit decay and the new payout
// debt as one unit. The purchase that breaches the debt ceiling still
// completes; the market closes behind it.
func (a *Auctioneer) PurchaseFor(id uint64, amount, minAmountOut *big.Int, now int64) (*big.Int, *big.Int, error) {
	if a == nil || a.state == nil {
		return nil, nil, errAuctioneerNilState
	}
	if err := nativecommon.Guard(a.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	m, err := a.loadMarket(id)
	if err != nil {
		return nil, nil, err
	}
	payout, price, err := quoteMarket(m, amount, now)
	if err != nil {
		return nil, nil, err
	}
	if minAmountOut != nil && payout.Cmp(minAmountOut) < 0 {
		return nil, nil, ErrSlippage
	}
	if m.Callback != "" {
		cb, ok := a.callbacks[m.Callback]
		if !ok {
			return nil, nil, fmt.Errorf("%w: callback %q not registered", ErrCallbackFailed, m.Callback)
		}
		if err := cb.OnPurchase(id, amount, payout); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrCallbackFailed, err)
		}
	}

	consumed := payout
	if m.CapacityInQuote {
		consumed = amount
	}
	m.Capacity = new(big.Int).Sub(m.Capacity, consumed)
	m.TotalDebt = new(big.Int).Add(currentDebt(m, now), payout)
	m.LastDecay = now
	m.Sold = new(big.Int).Add(m.Sold, payout)
	m.Purchased = new(big.Int).Add(m.Purchased, amount)

	// Capacity exhaustion takes precedence when one purchase triggers both
	// close conditions.
	closeReason := ""
	if m.TotalDebt.Cmp(m.MaxDebt) > 0 {
		closeReason = "debt ceiling breached"
	}
	if m.Capacity.Sign() == 0 {
		closeReason = "capacity exhausted"
	}
	if closeReason != "" {
		m.Closed = true
	}
	if err := a.state.MarketPut(m); err != nil {
		return nil, nil, err
	}
	if closeReason != "" {
		a.emit(NewMarketClosedEvent(m.ID, closeReason))
	}
	return payout, price, nil
}

// CloseMarket permanently closes the market regardless of remaining capacity
// or time. Only the market owner may call it.
func (a *Auctioneer) CloseMarket(id uint64, caller crypto.Address) error {
	if a == nil || a.state == nil {
		return errAuctioneerNilState
	}
	m, err := a.loadMarket(id)
	if err != nil {
		return err
	}
	if !m.Owner.Equal(caller) {
		return ErrUnauthorized
	}
	if m.Closed {
		return nil
	}
	m.Closed = true
	if err := a.state.MarketPut(m); err != nil {
		return err
	}
	a.emit(NewMarketClosedEvent(m.ID, "owner"))
	return nil
}

// IsLiveAt reports whether the market accepts purchases at the given instant.
func (a *Auctioneer) IsLiveAt(id uint64, now int64) (bool, error) {
	m, err := a.loadMarket(id)
	if err != nil {
		return false, err
	}
	return m.LiveAt(now), nil
}

// MarketView returns a copy of the stored market record.
func (a *Auctioneer) MarketView(id uint64) (*Market, error) {
	m, err := a.loadMarket(id)
	if err != nil {
		return nil, err
	}
	return m.Copy(), nil
}

func (a *Auctioneer) loadMarket(id uint64) (*Market, error) {
	if a == nil || a.state == nil {
		return nil, errAuctioneerNilState
	}
	m, ok, err := a.state.MarketGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || m == nil {
		return nil, ErrUnknownMarket
	}
	m.normalize()
	return m, nil
}
