package bond

import (
	"errors"
	"testing"
)

func newTestAggregator(state *mockState) (*Aggregator, *Auctioneer) {
	g := NewAggregator()
	g.SetState(state)

	a := NewAuctioneer("sda")
	a.SetState(state)
	a.SetRegistry(g)
	a.SetNowFunc(func() int64 { return testBase })
	g.RegisterAuctioneer(a)
	return g, a
}

func TestRegisterMarketAssignsSequentialIDs(t *testing.T) {
	state := newMockState()
	g, a := newTestAggregator(state)
	state.registerToken("APT", 18)
	state.registerToken("AQT", 18)

	first, err := a.CreateMarket(testAddr(0x01), referenceParams(t))
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	second, err := a.CreateMarket(testAddr(0x01), referenceParams(t))
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	if first != 1 || second != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", first, second)
	}
	counter, err := g.MarketCounter()
	if err != nil {
		t.Fatalf("market counter: %v", err)
	}
	if counter != 2 {
		t.Fatalf("counter = %d, want 2", counter)
	}

	ids, err := g.MarketsFor("APT", "AQT")
	if err != nil {
		t.Fatalf("markets for: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("pair index = %v, want [1 2]", ids)
	}

	owner, err := g.AuctioneerFor(first)
	if err != nil {
		t.Fatalf("auctioneer for: %v", err)
	}
	if owner != a {
		t.Fatalf("route resolved the wrong auctioneer")
	}
}

func TestRegisterMarketRejectsUnknownAuctioneer(t *testing.T) {
	state := newMockState()
	g, _ := newTestAggregator(state)

	if _, err := g.RegisterMarket("rogue", "APT", "AQT"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	counter, _ := g.MarketCounter()
	if counter != 0 {
		t.Fatalf("failed registration must not consume an id")
	}
}

func TestLiveMarketFiltering(t *testing.T) {
	state := newMockState()
	g, a := newTestAggregator(state)
	state.registerToken("APT", 18)
	state.registerToken("AQT", 18)

	shortLived := referenceParams(t)
	shortLived.Conclusion = testBase + 7_200
	shortLived.DepositInterval = 3_600
	first, err := a.CreateMarket(testAddr(0x01), shortLived)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	second, err := a.CreateMarket(testAddr(0x01), referenceParams(t))
	if err != nil {
		t.Fatalf("create market: %v", err)
	}

	live, err := g.LiveMarketsFor("APT", "AQT", testBase+1)
	if err != nil {
		t.Fatalf("live markets: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("expected both markets live, got %v", live)
	}

	// Past the first market's conclusion only the second remains.
	live, err = g.LiveMarketsFor("APT", "AQT", testBase+7_201)
	if err != nil {
		t.Fatalf("live markets: %v", err)
	}
	if len(live) != 1 || live[0] != second {
		t.Fatalf("expected only market %d live, got %v", second, live)
	}

	if err := a.CloseMarket(second, testAddr(0x01)); err != nil {
		t.Fatalf("close market: %v", err)
	}
	live, err = g.LiveMarketsFor("APT", "AQT", testBase+7_201)
	if err != nil {
		t.Fatalf("live markets: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("expected no live markets, got %v", live)
	}

	between, err := g.LiveMarketsBetween(first, second+5, testBase+1)
	if err != nil {
		t.Fatalf("live markets between: %v", err)
	}
	if len(between) != 1 || between[0] != first {
		t.Fatalf("expected only market %d in range scan, got %v", first, between)
	}
}

func TestFindMarketForPicksBestPayout(t *testing.T) {
	state := newMockState()
	g, a := newTestAggregator(state)
	state.registerToken("APT", 18)
	state.registerToken("AQT", 18)

	expensive := referenceParams(t)
	expensive.InitialPrice = mustBig(t, "9000000000000000000000000000000000000")
	expensive.MinPrice = mustBig(t, "8000000000000000000000000000000000000")
	dear, err := a.CreateMarket(testAddr(0x01), expensive)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	cheap, err := a.CreateMarket(testAddr(0x01), referenceParams(t))
	if err != nil {
		t.Fatalf("create market: %v", err)
	}

	amountIn := mustBig(t, "10000000000000000000")
	best, err := g.FindMarketFor("APT", "AQT", amountIn, nil, 0, testBase)
	if err != nil {
		t.Fatalf("find market: %v", err)
	}
	if best != cheap || best == dear {
		t.Fatalf("expected the cheaper market %d, got %d", cheap, best)
	}

	// A minimum payout no market can meet yields no match.
	if _, err := g.FindMarketFor("APT", "AQT", amountIn, mustBig(t, "99999999999999"), 0, testBase); !errors.Is(err, ErrUnknownMarket) {
		t.Fatalf("expected ErrUnknownMarket, got %v", err)
	}

	// Constraining the conclusion window can exclude the best market.
	short := referenceParams(t)
	short.Conclusion = testBase + 7_200
	short.DepositInterval = 3_600
	shortID, err := a.CreateMarket(testAddr(0x01), short)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	best, err = g.FindMarketFor("APT", "AQT", amountIn, nil, testBase+7_200, testBase)
	if err != nil {
		t.Fatalf("find market: %v", err)
	}
	if best != shortID {
		t.Fatalf("expected the short market %d under the conclusion cap, got %d", shortID, best)
	}
}

func TestLiveMarketsSkipUnpersistedIDs(t *testing.T) {
	state := newMockState()
	g, a := newTestAggregator(state)
	state.registerToken("APT", 18)
	state.registerToken("AQT", 18)

	real, err := a.CreateMarket(testAddr(0x01), referenceParams(t))
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	// Claim an id directly so it is routed and indexed but no market record
	// ever lands, as happens when the creating put fails.
	orphan, err := g.RegisterMarket("sda", "APT", "AQT")
	if err != nil {
		t.Fatalf("register market: %v", err)
	}

	ids, err := g.MarketsFor("APT", "AQT")
	if err != nil {
		t.Fatalf("markets for: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("pair index = %v, want both ids", ids)
	}

	live, err := g.LiveMarketsFor("APT", "AQT", testBase+1)
	if err != nil {
		t.Fatalf("live markets: %v", err)
	}
	if len(live) != 1 || live[0] != real {
		t.Fatalf("live = %v, want only market %d", live, real)
	}

	between, err := g.LiveMarketsBetween(real, orphan, testBase+1)
	if err != nil {
		t.Fatalf("live markets between: %v", err)
	}
	if len(between) != 1 || between[0] != real {
		t.Fatalf("range scan = %v, want only market %d", between, real)
	}
}
