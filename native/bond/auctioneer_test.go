package bond

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
)

const testBase = int64(1_700_000_000)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big integer literal %q", s)
	}
	return v
}

// referenceParams is a payout-capacity market selling APT for AQT: capacity
// 1e13 base units over 106400 seconds with 4 hour deposit intervals, priced
// between 6 and 7 (at 36 decimals, scale adjustment -9).
func referenceParams(t *testing.T) MarketParams {
	return MarketParams{
		PayoutToken:     "APT",
		QuoteToken:      "AQT",
		Kind:            TellerFixedTerm,
		Capacity:        mustBig(t, "10000000000000"),
		InitialPrice:    mustBig(t, "7000000000000000000000000000000000000"),
		MinPrice:        mustBig(t, "6000000000000000000000000000000000000"),
		DebtBuffer:      10_000,
		Vesting:         0,
		Conclusion:      testBase + 106_400,
		DepositInterval: 14_400,
		ScaleAdjustment: -9,
	}
}

func newTestAuctioneer(state *mockState) (*Auctioneer, *eventRecorder) {
	recorder := &eventRecorder{}
	a := NewAuctioneer("sda")
	a.SetState(state)
	a.SetRegistry(&mockRegistry{})
	a.SetEmitter(recorder)
	a.SetNowFunc(func() int64 { return testBase })
	return a, recorder
}

func createReferenceMarket(t *testing.T, a *Auctioneer, state *mockState) uint64 {
	t.Helper()
	state.registerToken("APT", 18)
	state.registerToken("AQT", 18)
	id, err := a.CreateMarket(testAddr(0x01), referenceParams(t))
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	return id
}

func TestCreateMarketDerivesDebtTerms(t *testing.T) {
	state := newMockState()
	a, recorder := newTestAuctioneer(state)
	id := createReferenceMarket(t, a, state)

	m, ok := state.markets[id]
	if !ok {
		t.Fatalf("market %d not persisted", id)
	}
	if got, want := m.TotalDebt, mustBig(t, "1353383458646"); got.Cmp(want) != 0 {
		t.Fatalf("target debt = %s, want %s", got, want)
	}
	if got, want := m.ControlVariable, mustBig(t, "5172222222224578456790124530185871056730418007925843"); got.Cmp(want) != 0 {
		t.Fatalf("control variable = %s, want %s", got, want)
	}
	if got, want := m.MaxDebt, mustBig(t, "1488721804510"); got.Cmp(want) != 0 {
		t.Fatalf("max debt = %s, want %s", got, want)
	}
	if m.DebtDecayInterval != 3*86_400 {
		t.Fatalf("debt decay interval = %d, want %d", m.DebtDecayInterval, 3*86_400)
	}
	if m.Scale.Cmp(pow10(27)) != 0 {
		t.Fatalf("scale = %s, want 10^27", m.Scale)
	}
	if m.LastDecay != testBase {
		t.Fatalf("last decay = %d, want %d", m.LastDecay, testBase)
	}
	if created := recorder.byType(EventTypeMarketCreated); len(created) != 1 {
		t.Fatalf("expected one market created event, got %d", len(created))
	}
}

func TestMarketPriceMatchesInitialPriceAtCreation(t *testing.T) {
	state := newMockState()
	a, _ := newTestAuctioneer(state)
	id := createReferenceMarket(t, a, state)

	price, err := a.MarketPriceAt(id, testBase)
	if err != nil {
		t.Fatalf("market price: %v", err)
	}
	if want := mustBig(t, "7000000000000000000000000000000000000"); price.Cmp(want) != 0 {
		t.Fatalf("price at creation = %s, want %s", price, want)
	}
}

func TestPurchasePayoutAfterOneSecond(t *testing.T) {
	state := newMockState()
	a, _ := newTestAuctioneer(state)
	id := createReferenceMarket(t, a, state)

	amount := mustBig(t, "10000000000000000000")
	payout, price, err := a.PurchaseFor(id, amount, nil, testBase+1)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if want := mustBig(t, "1428576940"); payout.Cmp(want) != 0 {
		t.Fatalf("payout = %s, want %s", payout, want)
	}
	if want := mustBig(t, "7000000000000000000000000000000000000"); price.Cmp(want) >= 0 {
		t.Fatalf("price after decay = %s, want below %s", price, want)
	}

	m := state.markets[id]
	if m.LastDecay != testBase+1 {
		t.Fatalf("last decay = %d, want %d", m.LastDecay, testBase+1)
	}
	if m.Sold.Cmp(payout) != 0 {
		t.Fatalf("sold = %s, want %s", m.Sold, payout)
	}
	if m.Purchased.Cmp(amount) != 0 {
		t.Fatalf("purchased = %s, want %s", m.Purchased, amount)
	}
	wantCapacity := new(big.Int).Sub(mustBig(t, "10000000000000"), payout)
	if m.Capacity.Cmp(wantCapacity) != 0 {
		t.Fatalf("capacity = %s, want %s", m.Capacity, wantCapacity)
	}
	// Debt after the purchase is the decayed debt plus the payout just sold.
	if m.TotalDebt.Cmp(mustBig(t, "1353383458646")) <= 0 {
		t.Fatalf("total debt should exceed the original target, got %s", m.TotalDebt)
	}
}

func TestPriceFloorsAtMinimumAfterFullDecay(t *testing.T) {
	state := newMockState()
	a, _ := newTestAuctioneer(state)

	state.registerToken("APT", 18)
	state.registerToken("AQT", 18)
	params := referenceParams(t)
	params.Conclusion = testBase + 10*86_400
	id, err := a.CreateMarket(testAddr(0x01), params)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}

	price, err := a.MarketPriceAt(id, testBase+3*86_400)
	if err != nil {
		t.Fatalf("market price: %v", err)
	}
	if want := mustBig(t, "6000000000000000000000000000000000000"); price.Cmp(want) != 0 {
		t.Fatalf("fully decayed price = %s, want floor %s", price, want)
	}
}

func TestPurchaseRejectsWhenCapacityExceeded(t *testing.T) {
	state := newMockState()
	a, _ := newTestAuctioneer(state)

	state.registerToken("APT", 18)
	state.registerToken("AQT", 18)
	params := referenceParams(t)
	params.CapacityInQuote = true
	params.Capacity = mustBig(t, "10000000000000000000")
	id, err := a.CreateMarket(testAddr(0x01), params)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	before := state.markets[id].Copy()

	tooMuch := mustBig(t, "10000000000000000001")
	if _, _, err := a.PurchaseFor(id, tooMuch, nil, testBase+1); !errors.Is(err, ErrInsufficientCapacity) {
		t.Fatalf("expected ErrInsufficientCapacity, got %v", err)
	}

	after := state.markets[id]
	if after.Capacity.Cmp(before.Capacity) != 0 || after.TotalDebt.Cmp(before.TotalDebt) != 0 || after.LastDecay != before.LastDecay {
		t.Fatalf("rejected purchase mutated market state")
	}
}

func TestPurchaseSlippageRejected(t *testing.T) {
	state := newMockState()
	a, _ := newTestAuctioneer(state)
	id := createReferenceMarket(t, a, state)

	amount := mustBig(t, "10000000000000000000")
	minOut := mustBig(t, "1428576941")
	if _, _, err := a.PurchaseFor(id, amount, minOut, testBase+1); !errors.Is(err, ErrSlippage) {
		t.Fatalf("expected ErrSlippage, got %v", err)
	}
}

func TestPurchaseClosesMarketWhenCapacityExhausted(t *testing.T) {
	state := newMockState()
	a, recorder := newTestAuctioneer(state)

	state.registerToken("APT", 18)
	state.registerToken("AQT", 18)
	params := referenceParams(t)
	params.CapacityInQuote = true
	params.Capacity = mustBig(t, "10000000000000000000")
	id, err := a.CreateMarket(testAddr(0x01), params)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}

	if _, _, err := a.PurchaseFor(id, mustBig(t, "10000000000000000000"), nil, testBase+1); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	m := state.markets[id]
	if !m.Closed {
		t.Fatalf("market should close when capacity hits zero")
	}
	// This purchase also pushes debt past the ceiling; the close reason must
	// still report the exhausted capacity.
	if m.TotalDebt.Cmp(m.MaxDebt) <= 0 {
		t.Fatalf("scenario should breach the debt ceiling too, debt=%s max=%s", m.TotalDebt, m.MaxDebt)
	}
	closed := recorder.byType(EventTypeMarketClosed)
	if len(closed) != 1 || closed[0].Attributes["reason"] != "capacity exhausted" {
		t.Fatalf("expected capacity exhausted close event, got %+v", closed)
	}
}

func TestPurchaseCompletesWhenDebtCeilingBreached(t *testing.T) {
	state := newMockState()
	a, recorder := newTestAuctioneer(state)

	state.registerToken("APT", 18)
	state.registerToken("AQT", 18)
	params := referenceParams(t)
	params.DebtBuffer = 1
	id, err := a.CreateMarket(testAddr(0x01), params)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}

	payout, _, err := a.PurchaseFor(id, mustBig(t, "10000000000000000000"), nil, testBase+1)
	if err != nil {
		t.Fatalf("the breaching purchase must still settle: %v", err)
	}
	if want := mustBig(t, "1428576940"); payout.Cmp(want) != 0 {
		t.Fatalf("payout = %s, want %s", payout, want)
	}
	m := state.markets[id]
	if !m.Closed {
		t.Fatalf("market should close after breaching the debt ceiling")
	}
	if m.TotalDebt.Cmp(m.MaxDebt) <= 0 {
		t.Fatalf("total debt %s should exceed max debt %s", m.TotalDebt, m.MaxDebt)
	}
	closed := recorder.byType(EventTypeMarketClosed)
	if len(closed) != 1 || closed[0].Attributes["reason"] != "debt ceiling breached" {
		t.Fatalf("expected debt ceiling close event, got %+v", closed)
	}

	if _, _, err := a.PurchaseFor(id, mustBig(t, "1000000000000000000"), nil, testBase+2); !errors.Is(err, ErrMarketClosed) {
		t.Fatalf("expected ErrMarketClosed after auto-close, got %v", err)
	}
}

func TestPurchaseAfterConclusionRejected(t *testing.T) {
	state := newMockState()
	a, _ := newTestAuctioneer(state)
	id := createReferenceMarket(t, a, state)

	if _, _, err := a.PurchaseFor(id, mustBig(t, "1000000000000000000"), nil, testBase+106_401); !errors.Is(err, ErrMarketClosed) {
		t.Fatalf("expected ErrMarketClosed past conclusion, got %v", err)
	}
}

func TestCloseMarketOwnerOnly(t *testing.T) {
	state := newMockState()
	a, recorder := newTestAuctioneer(state)
	id := createReferenceMarket(t, a, state)

	if err := a.CloseMarket(id, testAddr(0x02)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-owner, got %v", err)
	}
	if err := a.CloseMarket(id, testAddr(0x01)); err != nil {
		t.Fatalf("owner close: %v", err)
	}
	if !state.markets[id].Closed {
		t.Fatalf("market should be closed")
	}
	// Closing again is a no-op and must not emit a second event.
	if err := a.CloseMarket(id, testAddr(0x01)); err != nil {
		t.Fatalf("repeat close: %v", err)
	}
	if closed := recorder.byType(EventTypeMarketClosed); len(closed) != 1 {
		t.Fatalf("expected one close event, got %d", len(closed))
	}
}

func TestCreateMarketValidation(t *testing.T) {
	state := newMockState()
	a, _ := newTestAuctioneer(state)
	state.registerToken("APT", 18)
	state.registerToken("AQT", 18)
	owner := testAddr(0x01)

	cases := []struct {
		name   string
		mutate func(*MarketParams)
	}{
		{name: "same tokens", mutate: func(p *MarketParams) { p.QuoteToken = "APT" }},
		{name: "unknown token", mutate: func(p *MarketParams) { p.QuoteToken = "XYZ" }},
		{name: "zero capacity", mutate: func(p *MarketParams) { p.Capacity = big.NewInt(0) }},
		{name: "zero min price", mutate: func(p *MarketParams) { p.MinPrice = big.NewInt(0) }},
		{name: "initial below min", mutate: func(p *MarketParams) { p.InitialPrice = new(big.Int).Set(p.MinPrice) }},
		{name: "zero debt buffer", mutate: func(p *MarketParams) { p.DebtBuffer = 0 }},
		{name: "past conclusion", mutate: func(p *MarketParams) { p.Conclusion = testBase }},
		{name: "zero deposit interval", mutate: func(p *MarketParams) { p.DepositInterval = 0 }},
		{name: "interval past duration", mutate: func(p *MarketParams) { p.DepositInterval = 200_000 }},
		{name: "scale adjustment too big", mutate: func(p *MarketParams) { p.ScaleAdjustment = 25 }},
		{name: "negative fixed-term vesting", mutate: func(p *MarketParams) { p.Vesting = -1 }},
		{name: "stale fixed-expiry", mutate: func(p *MarketParams) {
			p.Kind = TellerFixedExpiry
			p.Vesting = testBase - 1
		}},
		{name: "unknown kind", mutate: func(p *MarketParams) { p.Kind = TellerKind(9) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := referenceParams(t)
			tc.mutate(&params)
			_, err := a.CreateMarket(owner, params)
			if !errors.Is(err, ErrInvalidParams) && !errors.Is(err, ErrUnknownToken) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	var zero MarketParams
	if _, err := a.CreateMarket(owner, zero); err == nil {
		t.Fatalf("expected zero params to fail validation")
	}
}

type failingCallback struct{}

func (failingCallback) OnPurchase(uint64, *big.Int, *big.Int) error {
	return fmt.Errorf("upstream rejected")
}

func TestPurchaseCallbackFailureAborts(t *testing.T) {
	state := newMockState()
	a, _ := newTestAuctioneer(state)
	a.RegisterCallback("treasury", failingCallback{})

	state.registerToken("APT", 18)
	state.registerToken("AQT", 18)
	params := referenceParams(t)
	params.Callback = "treasury"
	id, err := a.CreateMarket(testAddr(0x01), params)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	before := state.markets[id].Copy()

	if _, _, err := a.PurchaseFor(id, mustBig(t, "10000000000000000000"), nil, testBase+1); !errors.Is(err, ErrCallbackFailed) {
		t.Fatalf("expected ErrCallbackFailed, got %v", err)
	}
	after := state.markets[id]
	if after.TotalDebt.Cmp(before.TotalDebt) != 0 || after.Capacity.Cmp(before.Capacity) != 0 {
		t.Fatalf("failed callback mutated market state")
	}
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	state := newMockState()
	a, _ := newTestAuctioneer(state)
	id := createReferenceMarket(t, a, state)

	a.SetPauses(&mockPauses{paused: map[string]bool{"bond": true}})
	if _, err := a.CreateMarket(testAddr(0x01), referenceParams(t)); err == nil {
		t.Fatalf("expected paused module to reject creation")
	}
	if _, _, err := a.PurchaseFor(id, mustBig(t, "1000000000000000000"), nil, testBase+1); err == nil {
		t.Fatalf("expected paused module to reject purchases")
	}
}
