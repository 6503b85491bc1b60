package bond

import (
	"math/big"

	"bondmarket/core/events"
	"bondmarket/core/types"
	"bondmarket/crypto"
)

// mockState is an in-memory backend satisfying every state interface the
// engines consume. Reads hand back copies so tests observe the same
// load/store semantics as the persistent manager.
type mockState struct {
	markets  map[uint64]*Market
	tokens   map[string]*TokenMeta
	claims   map[[32]byte]*ClaimInstrument
	claimBal map[string]*big.Int
	accounts map[string]*types.Account
	rewards  map[string]*big.Int

	counter uint64
	routes  map[uint64]string
	pairs   map[string][]uint64
}

func newMockState() *mockState {
	return &mockState{
		markets:  make(map[uint64]*Market),
		tokens:   make(map[string]*TokenMeta),
		claims:   make(map[[32]byte]*ClaimInstrument),
		claimBal: make(map[string]*big.Int),
		accounts: make(map[string]*types.Account),
		rewards:  make(map[string]*big.Int),
		routes:   make(map[uint64]string),
		pairs:    make(map[string][]uint64),
	}
}

func (s *mockState) registerToken(symbol string, decimals uint8) {
	s.tokens[symbol] = &TokenMeta{Symbol: symbol, Name: symbol, Decimals: decimals}
}

func (s *mockState) fund(addr crypto.Address, asset string, amount *big.Int) {
	account, ok := s.accounts[addr.String()]
	if !ok {
		account = types.NewAccount()
		s.accounts[addr.String()] = account
	}
	account.SetBalance(asset, new(big.Int).Add(account.BalanceOf(asset), amount))
}

func (s *mockState) balance(addr crypto.Address, asset string) *big.Int {
	account, ok := s.accounts[addr.String()]
	if !ok {
		return big.NewInt(0)
	}
	return account.BalanceOf(asset)
}

func (s *mockState) MarketGet(id uint64) (*Market, bool, error) {
	m, ok := s.markets[id]
	if !ok {
		return nil, false, nil
	}
	return m.Copy(), true, nil
}

func (s *mockState) MarketPut(m *Market) error {
	s.markets[m.ID] = m.Copy()
	return nil
}

func (s *mockState) TokenGet(symbol string) (*TokenMeta, bool, error) {
	meta, ok := s.tokens[symbol]
	if !ok {
		return nil, false, nil
	}
	clone := *meta
	return &clone, true, nil
}

func (s *mockState) ClaimGet(id [32]byte) (*ClaimInstrument, bool, error) {
	inst, ok := s.claims[id]
	if !ok {
		return nil, false, nil
	}
	return inst.Copy(), true, nil
}

func (s *mockState) ClaimPut(inst *ClaimInstrument) error {
	s.claims[inst.ID] = inst.Copy()
	return nil
}

func claimBalKey(id [32]byte, addr crypto.Address) string {
	return string(id[:]) + "/" + addr.String()
}

func (s *mockState) ClaimBalance(id [32]byte, addr crypto.Address) (*big.Int, error) {
	balance, ok := s.claimBal[claimBalKey(id, addr)]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

func (s *mockState) ClaimBalancePut(id [32]byte, addr crypto.Address, amount *big.Int) error {
	s.claimBal[claimBalKey(id, addr)] = new(big.Int).Set(amount)
	return nil
}

func (s *mockState) GetAccount(addr crypto.Address) (*types.Account, error) {
	account, ok := s.accounts[addr.String()]
	if !ok {
		return nil, nil
	}
	clone := types.NewAccount()
	clone.Nonce = account.Nonce
	for asset := range account.Balances {
		clone.SetBalance(asset, account.BalanceOf(asset))
	}
	return clone, nil
}

func (s *mockState) PutAccount(addr crypto.Address, account *types.Account) error {
	clone := types.NewAccount()
	clone.Nonce = account.Nonce
	for asset := range account.Balances {
		clone.SetBalance(asset, account.BalanceOf(asset))
	}
	s.accounts[addr.String()] = clone
	return nil
}

func (s *mockState) RewardGet(addr crypto.Address, asset string) (*big.Int, error) {
	reward, ok := s.rewards[addr.String()+"/"+asset]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(reward), nil
}

func (s *mockState) RewardPut(addr crypto.Address, asset string, amount *big.Int) error {
	s.rewards[addr.String()+"/"+asset] = new(big.Int).Set(amount)
	return nil
}

func (s *mockState) AggCounterGet() (uint64, error) { return s.counter, nil }

func (s *mockState) AggCounterPut(counter uint64) error {
	s.counter = counter
	return nil
}

func (s *mockState) AggRouteGet(id uint64) (string, bool, error) {
	handle, ok := s.routes[id]
	return handle, ok, nil
}

func (s *mockState) AggRoutePut(id uint64, auctioneer string) error {
	s.routes[id] = auctioneer
	return nil
}

func (s *mockState) AggPairGet(payoutToken, quoteToken string) ([]uint64, error) {
	return append([]uint64{}, s.pairs[payoutToken+"/"+quoteToken]...), nil
}

func (s *mockState) AggPairPut(payoutToken, quoteToken string, ids []uint64) error {
	s.pairs[payoutToken+"/"+quoteToken] = append([]uint64{}, ids...)
	return nil
}

// mockRegistry hands out sequential ids without any authorization checks.
type mockRegistry struct {
	next uint64
}

func (r *mockRegistry) RegisterMarket(string, string, string) (uint64, error) {
	r.next++
	return r.next, nil
}

// eventRecorder captures emitted events for assertions.
type eventRecorder struct {
	events []*types.Event
}

func (r *eventRecorder) Emit(evt events.Event) {
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	r.events = append(r.events, payload.Event())
}

func (r *eventRecorder) byType(eventType string) []*types.Event {
	var matched []*types.Event
	for _, evt := range r.events {
		if evt.Type == eventType {
			matched = append(matched, evt)
		}
	}
	return matched
}

type mockPauses struct {
	paused map[string]bool
}

func (p *mockPauses) IsPaused(module string) bool { return p.paused[module] }

func testAddr(seed byte) crypto.Address {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = seed
	}
	return crypto.NewAddress(crypto.BondPrefix, raw)
}
