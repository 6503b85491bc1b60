package bond

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var errAggregatorNilState = errors.New("bond aggregator: state not configured")

type aggregatorState interface {
	AggCounterGet() (uint64, error)
	AggCounterPut(counter uint64) error
	AggRouteGet(id uint64) (string, bool, error)
	AggRoutePut(id uint64, auctioneer string) error
	AggPairGet(payoutToken, quoteToken string) ([]uint64, error)
	AggPairPut(payoutToken, quoteToken string, ids []uint64) error
}

// Aggregator hands out globally unique market identifiers across all
// registered auctioneers and indexes markets by traded pair so callers can
// discover and compare them without knowing which auctioneer owns each one.
type Aggregator struct {
	state       aggregatorState
	auctioneers map[string]*Auctioneer
}

// NewAggregator constructs an aggregator with no registered auctioneers.
func NewAggregator() *Aggregator {
	return &Aggregator{auctioneers: make(map[string]*Auctioneer)}
}

// SetState wires the aggregator to the persistence layer.
func (g *Aggregator) SetState(state aggregatorState) { g.state = state }

// RegisterAuctioneer whitelists an auctioneer: only registered handles may
// claim market identifiers, and routed lookups resolve through this table.
func (g *Aggregator) RegisterAuctioneer(a *Auctioneer) {
	if a == nil || strings.TrimSpace(a.Name()) == "" {
		return
	}
	g.auctioneers[a.Name()] = a
}

// RegisterMarket assigns the next market id to the named auctioneer and
// indexes it under its traded pair. Unregistered auctioneers are rejected.
func (g *Aggregator) RegisterMarket(auctioneer, payoutToken, quoteToken string) (uint64, error) {
	if g == nil || g.state == nil {
		return 0, errAggregatorNilState
	}
	if _, ok := g.auctioneers[auctioneer]; !ok {
		return 0, fmt.Errorf("%w: auctioneer %q not registered", ErrUnauthorized, auctioneer)
	}
	counter, err := g.state.AggCounterGet()
	if err != nil {
		return 0, err
	}
	id := counter + 1
	if err := g.state.AggRoutePut(id, auctioneer); err != nil {
		return 0, err
	}
	ids, err := g.state.AggPairGet(payoutToken, quoteToken)
	if err != nil {
		return 0, err
	}
	if err := g.state.AggPairPut(payoutToken, quoteToken, append(ids, id)); err != nil {
		return 0, err
	}
	if err := g.state.AggCounterPut(id); err != nil {
		return 0, err
	}
	return id, nil
}

// MarketCounter returns the highest market id handed out so far.
func (g *Aggregator) MarketCounter() (uint64, error) {
	if g == nil || g.state == nil {
		return 0, errAggregatorNilState
	}
	return g.state.AggCounterGet()
}

// AuctioneerFor resolves the auctioneer that owns the given market id.
func (g *Aggregator) AuctioneerFor(id uint64) (*Auctioneer, error) {
	if g == nil || g.state == nil {
		return nil, errAggregatorNilState
	}
	handle, ok, err := g.state.AggRouteGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownMarket
	}
	a, ok := g.auctioneers[handle]
	if !ok {
		return nil, fmt.Errorf("%w: auctioneer %q no longer registered", ErrUnknownMarket, handle)
	}
	return a, nil
}

// MarketsFor lists every market id ever registered for a traded pair,
// including closed ones, in registration order.
func (g *Aggregator) MarketsFor(payoutToken, quoteToken string) ([]uint64, error) {
	if g == nil || g.state == nil {
		return nil, errAggregatorNilState
	}
	return g.state.AggPairGet(payoutToken, quoteToken)
}

// LiveMarketsFor filters MarketsFor down to markets accepting purchases at
// the given instant. Ids whose market record never landed (the registration
// committed but the creating put failed) are skipped, not errors.
func (g *Aggregator) LiveMarketsFor(payoutToken, quoteToken string, now int64) ([]uint64, error) {
	ids, err := g.MarketsFor(payoutToken, quoteToken)
	if err != nil {
		return nil, err
	}
	live := make([]uint64, 0, len(ids))
	for _, id := range ids {
		a, err := g.AuctioneerFor(id)
		if err != nil {
			if errors.Is(err, ErrUnknownMarket) {
				continue
			}
			return nil, err
		}
		ok, err := a.IsLiveAt(id, now)
		if err != nil {
			if errors.Is(err, ErrUnknownMarket) {
				continue
			}
			return nil, err
		}
		if ok {
			live = append(live, id)
		}
	}
	return live, nil
}

// LiveMarketsBetween scans an inclusive id range and returns the ids live at
// the given instant. Gaps left by unknown ids are skipped.
func (g *Aggregator) LiveMarketsBetween(firstID, lastID uint64, now int64) ([]uint64, error) {
	if g == nil || g.state == nil {
		return nil, errAggregatorNilState
	}
	live := make([]uint64, 0)
	for id := firstID; id <= lastID; id++ {
		a, err := g.AuctioneerFor(id)
		if err != nil {
			if errors.Is(err, ErrUnknownMarket) {
				continue
			}
			return nil, err
		}
		ok, err := a.IsLiveAt(id, now)
		if err != nil {
			if errors.Is(err, ErrUnknownMarket) {
				continue
			}
			return nil, err
		}
		if ok {
			live = append(live, id)
		}
	}
	return live, nil
}

// FindMarketFor returns the live market for the pair that pays out the most
// for amountIn, subject to the caller's minimum payout and latest acceptable
// conclusion. ErrUnknownMarket is returned when no market qualifies.
func (g *Aggregator) FindMarketFor(payoutToken, quoteToken string, amountIn, minAmountOut *big.Int, maxConclusion, now int64) (uint64, error) {
	ids, err := g.LiveMarketsFor(payoutToken, quoteToken, now)
	if err != nil {
		return 0, err
	}
	bestID := uint64(0)
	var bestPayout *big.Int
	for _, id := range ids {
		a, err := g.AuctioneerFor(id)
		if err != nil {
			return 0, err
		}
		m, err := a.MarketView(id)
		if err != nil {
			return 0, err
		}
		if maxConclusion > 0 && m.Conclusion > maxConclusion {
			continue
		}
		payout, _, err := a.PayoutFor(id, amountIn, now)
		if err != nil {
			// Markets too shallow for this order size are simply not
			// candidates.
			if errors.Is(err, ErrInsufficientCapacity) {
				continue
			}
			return 0, err
		}
		if minAmountOut != nil && payout.Cmp(minAmountOut) < 0 {
			continue
		}
		if bestPayout == nil || payout.Cmp(bestPayout) > 0 {
			bestID = id
			bestPayout = payout
		}
	}
	if bestPayout == nil {
		return 0, fmt.Errorf("%w: no live market satisfies the order", ErrUnknownMarket)
	}
	return bestID, nil
}

// CurrentPrice routes a price query to the owning auctioneer.
func (g *Aggregator) CurrentPrice(id uint64, now int64) (*big.Int, error) {
	a, err := g.AuctioneerFor(id)
	if err != nil {
		return nil, err
	}
	return a.MarketPriceAt(id, now)
}
