package core

import (
	"math/big"
	"strings"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"bondmarket/core/events"
	"bondmarket/core/types"
	"bondmarket/crypto"
	"bondmarket/native/bond"
	"bondmarket/observability/metrics"
	"bondmarket/state"
	"bondmarket/storage"
)

const (
	// AuctioneerName is the handle the node's auctioneer registers markets
	// under with the aggregator.
	AuctioneerName = "sda"

	maxBufferedEvents = 4096
)

// ModuleAddress derives the deterministic address a module account lives at.
func ModuleAddress(label string) crypto.Address {
	digest := ethcrypto.Keccak256([]byte("bondmarket/module/" + label))
	return crypto.NewAddress(crypto.BondPrefix, digest[12:])
}

// Config carries the operator-tunable node parameters.
type Config struct {
	Fees             bond.FeeConfig
	ProtocolFeeOwner crypto.Address
}

// Node owns the persistent state and serializes every mutating operation of
// the bond market behind one mutex.
type Node struct {
	mu sync.Mutex

	db         storage.Database
	manager    *state.Manager
	auctioneer *bond.Auctioneer
	teller     *bond.Teller
	aggregator *bond.Aggregator
	pauses     *PauseRegistry
	metrics    *metrics.BondMetrics

	eventMu sync.RWMutex
	events  []types.Event
}

// NewNode wires the engines over the provided database. Pause switches are
// restored from state so a restart keeps an operator halt in force.
func NewNode(db storage.Database, cfg Config) (*Node, error) {
	manager := state.NewManager(db)
	paused, err := manager.PausesGet()
	if err != nil {
		return nil, err
	}
	node := &Node{
		db:      db,
		manager: manager,
		pauses:  NewPauseRegistry(manager, paused),
		metrics: metrics.Bond(),
	}

	aggregator := bond.NewAggregator()
	aggregator.SetState(manager)

	auctioneer := bond.NewAuctioneer(AuctioneerName)
	auctioneer.SetState(manager)
	auctioneer.SetRegistry(aggregator)
	auctioneer.SetPauses(node.pauses)
	auctioneer.SetEmitter(node)
	aggregator.RegisterAuctioneer(auctioneer)

	feeOwner := cfg.ProtocolFeeOwner
	if feeOwner.IsZero() {
		feeOwner = ModuleAddress("treasury")
	}
	teller := bond.NewTeller(ModuleAddress("custody"), feeOwner, cfg.Fees)
	teller.SetState(manager)
	teller.SetAuctioneer(auctioneer)
	teller.SetPauses(node.pauses)
	teller.SetEmitter(node)

	node.aggregator = aggregator
	node.auctioneer = auctioneer
	node.teller = teller
	return node, nil
}

// SetNowFunc overrides the clock of both engines, primarily for tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.auctioneer.SetNowFunc(now)
	n.teller.SetNowFunc(now)
}

// Emit buffers a module event for RPC consumers. Implements events.Emitter.
func (n *Node) Emit(evt events.Event) {
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	event := payload.Event()
	if event == nil {
		return
	}
	n.eventMu.Lock()
	n.events = append(n.events, *event)
	if len(n.events) > maxBufferedEvents {
		n.events = n.events[len(n.events)-maxBufferedEvents:]
	}
	n.eventMu.Unlock()

	switch event.Type {
	case bond.EventTypeMarketCreated:
		n.metrics.ObserveMarketCreated()
	case bond.EventTypeMarketClosed:
		n.metrics.ObserveMarketClosed(event.Attributes["reason"])
	case bond.EventTypeRedeemed:
		n.metrics.ObserveRedemption()
	}
}

// Events returns a copy of the buffered module events, oldest first.
func (n *Node) Events() []types.Event {
	n.eventMu.RLock()
	defer n.eventMu.RUnlock()
	out := make([]types.Event, len(n.events))
	copy(out, n.events)
	return out
}

// RegisterToken registers fungible asset metadata. Creating a market requires
// both sides of the pair to be registered first.
func (n *Node) RegisterToken(meta *bond.TokenMeta) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager.TokenPut(meta)
}

// Token returns registered token metadata.
func (n *Node) Token(symbol string) (*bond.TokenMeta, bool, error) {
	return n.manager.TokenGet(symbol)
}

// Tokens lists every registered token symbol.
func (n *Node) Tokens() ([]string, error) {
	return n.manager.TokenList()
}

// Mint credits an account balance. This is the supply entry point for genesis
// allocations and operator funding; it is exposed only on authenticated RPC.
func (n *Node) Mint(addr crypto.Address, asset string, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if amount == nil || amount.Sign() <= 0 {
		return bond.ErrInvalidParams
	}
	if _, ok, err := n.manager.TokenGet(asset); err != nil {
		return err
	} else if !ok {
		return bond.ErrUnknownToken
	}
	account, err := n.manager.GetAccount(addr)
	if err != nil {
		return err
	}
	if account == nil {
		account = types.NewAccount()
	}
	account.SetBalance(asset, new(big.Int).Add(account.BalanceOf(asset), amount))
	return n.manager.PutAccount(addr, account)
}

// Balance reads an account's balance for an asset.
func (n *Node) Balance(addr crypto.Address, asset string) (*big.Int, error) {
	account, err := n.manager.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return big.NewInt(0), nil
	}
	return account.BalanceOf(asset), nil
}

// CreateMarket opens a new bond market owned by the caller.
func (n *Node) CreateMarket(owner crypto.Address, params bond.MarketParams) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.auctioneer.CreateMarket(owner, params)
}

// CloseMarket permanently closes a market. Owner only.
func (n *Node) CloseMarket(id uint64, caller crypto.Address) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.auctioneer.CloseMarket(id, caller)
}

// Market returns a copy of a market record.
func (n *Node) Market(id uint64) (*bond.Market, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.auctioneer.MarketView(id)
}

// MarketPrice returns the current decayed price of a live market.
func (n *Node) MarketPrice(id uint64) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	price, err := n.auctioneer.MarketPrice(id)
	if err != nil {
		return nil, err
	}
	approx, _ := new(big.Float).SetInt(price).Float64()
	n.metrics.SetMarketPrice(id, approx)
	return price, nil
}

// PayoutFor quotes the payout a purchase would settle at right now, without
// committing state.
func (n *Node) PayoutFor(id uint64, amount *big.Int) (*big.Int, *big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.auctioneer.PayoutFor(id, amount, n.auctioneer.Now())
}

// Purchase settles a bond purchase through the teller.
func (n *Node) Purchase(buyer, recipient, referrer crypto.Address, id uint64, amount, minAmountOut *big.Int) (*bond.PurchaseReceipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	receipt, err := n.teller.Purchase(buyer, recipient, referrer, id, amount, minAmountOut)
	if err != nil {
		n.metrics.ObservePurchase("rejected")
		return nil, err
	}
	n.metrics.ObservePurchase("settled")
	return receipt, nil
}

// Redeem burns a matured claim and releases the payout.
func (n *Node) Redeem(caller crypto.Address, claimID [32]byte, amount *big.Int) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.teller.Redeem(caller, claimID, amount)
}

// BondToken resolves (creating on first use) the fixed-expiry claim
// instrument for a payout token and expiry.
func (n *Node) BondToken(underlying string, expiry int64) (*bond.ClaimInstrument, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.teller.BondToken(underlying, expiry)
}

// Claim returns a claim instrument by id.
func (n *Node) Claim(id [32]byte) (*bond.ClaimInstrument, bool, error) {
	return n.teller.Ledger().Lookup(id)
}

// ClaimBalance returns a holder's balance for a claim instrument.
func (n *Node) ClaimBalance(id [32]byte, addr crypto.Address) (*big.Int, error) {
	return n.teller.Ledger().BalanceOf(id, addr)
}

// ClaimFees pays out the caller's accrued fee rewards for the given assets.
func (n *Node) ClaimFees(caller crypto.Address, assets []string) (map[string]*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	claimed, err := n.teller.ClaimFees(caller, assets)
	if err != nil {
		return nil, err
	}
	for asset, amount := range claimed {
		approx, _ := new(big.Float).SetInt(amount).Float64()
		n.metrics.ObserveFeesClaimed(asset, approx)
	}
	return claimed, nil
}

// RewardOf reports unclaimed fee rewards for an address and asset.
func (n *Node) RewardOf(addr crypto.Address, asset string) (*big.Int, error) {
	return n.teller.RewardOf(addr, asset)
}

// MarketsFor lists every market id registered for a traded pair.
func (n *Node) MarketsFor(payoutToken, quoteToken string) ([]uint64, error) {
	return n.aggregator.MarketsFor(payoutToken, quoteToken)
}

// LiveMarketsFor lists the pair's markets currently accepting purchases.
func (n *Node) LiveMarketsFor(payoutToken, quoteToken string) ([]uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.aggregator.LiveMarketsFor(payoutToken, quoteToken, n.auctioneer.Now())
}

// FindMarketFor picks the live market paying out the most for the order.
func (n *Node) FindMarketFor(payoutToken, quoteToken string, amountIn, minAmountOut *big.Int, maxConclusion int64) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.aggregator.FindMarketFor(payoutToken, quoteToken, amountIn, minAmountOut, maxConclusion, n.auctioneer.Now())
}

// MarketCounter returns the highest market id handed out so far.
func (n *Node) MarketCounter() (uint64, error) {
	return n.aggregator.MarketCounter()
}

// Pause halts the named module's mutating operations until resumed.
func (n *Node) Pause(module string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pauses.Set(strings.TrimSpace(module), true)
}

// Resume lifts an operator pause.
func (n *Node) Resume(module string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pauses.Set(strings.TrimSpace(module), false)
}

// Paused reports whether a module is currently halted.
func (n *Node) Paused(module string) bool {
	return n.pauses.IsPaused(module)
}
