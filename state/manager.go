package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"bondmarket/core/types"
	"bondmarket/crypto"
	"bondmarket/native/bond"
	"bondmarket/storage"
)

var (
	marketPrefix    = []byte("bond/market/")
	claimPrefix     = []byte("bond/claim/")
	claimBalPrefix  = []byte("bond/claim/bal/")
	tokenPrefix     = []byte("bond/token/")
	tokenIndexKey   = []byte("bond/token/index")
	rewardPrefix    = []byte("bond/reward/")
	aggCounterKey   = []byte("bond/agg/counter")
	aggRoutePrefix  = []byte("bond/agg/route/")
	aggPairPrefix   = []byte("bond/agg/pair/")
	accountPrefix   = []byte("account/")
	pauseKey        = []byte("bond/pauses")
	errNilManagerDB = errors.New("state: database not configured")
)

// Manager persists every record the bond module reads and writes: markets,
// claim instruments and balances, token metadata, accounts, fee rewards and
// the aggregator's routing tables. Records are RLP encoded over a flat
// key-value database.
type Manager struct {
	db storage.Database
}

// NewManager binds a manager to the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) kvGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, errNilManagerDB
	}
	raw, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) kvPut(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return errNilManagerDB
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, encoded)
}

func appendUint64(prefix []byte, v uint64) []byte {
	key := append([]byte{}, prefix...)
	for shift := 56; shift >= 0; shift -= 8 {
		key = append(key, byte(v>>uint(shift)))
	}
	return key
}

// --- markets -----------------------------------------------------------------

type storedMarket struct {
	ID                uint64
	Owner             [20]byte
	PayoutToken       string
	QuoteToken        string
	Callback          string
	Kind              uint8
	CapacityInQuote   bool
	Capacity          *big.Int
	TotalDebt         *big.Int
	MaxDebt           *big.Int
	MinPrice          *big.Int
	ControlVariable   *big.Int
	Scale             *big.Int
	ScaleAdjNegative  bool
	ScaleAdjMagnitude uint8
	Vesting           uint64
	Conclusion        uint64
	LastDecay         uint64
	DepositInterval   uint64
	DebtDecayInterval uint64
	Closed            bool
	Sold              *big.Int
	Purchased         *big.Int
}

func marketToStored(mk *bond.Market) *storedMarket {
	stored := &storedMarket{
		ID:                mk.ID,
		PayoutToken:       mk.PayoutToken,
		QuoteToken:        mk.QuoteToken,
		Callback:          mk.Callback,
		Kind:              uint8(mk.Kind),
		CapacityInQuote:   mk.CapacityInQuote,
		Capacity:          mk.Capacity,
		TotalDebt:         mk.TotalDebt,
		MaxDebt:           mk.MaxDebt,
		MinPrice:          mk.MinPrice,
		ControlVariable:   mk.ControlVariable,
		Scale:             mk.Scale,
		Vesting:           uint64(mk.Vesting),
		Conclusion:        uint64(mk.Conclusion),
		LastDecay:         uint64(mk.LastDecay),
		DepositInterval:   uint64(mk.DepositInterval),
		DebtDecayInterval: uint64(mk.DebtDecayInterval),
		Closed:            mk.Closed,
		Sold:              mk.Sold,
		Purchased:         mk.Purchased,
	}
	copy(stored.Owner[:], mk.Owner.Bytes())
	if mk.ScaleAdjustment < 0 {
		stored.ScaleAdjNegative = true
		stored.ScaleAdjMagnitude = uint8(-mk.ScaleAdjustment)
	} else {
		stored.ScaleAdjMagnitude = uint8(mk.ScaleAdjustment)
	}
	return stored
}

func marketFromStored(stored *storedMarket) *bond.Market {
	adjustment := int8(stored.ScaleAdjMagnitude)
	if stored.ScaleAdjNegative {
		adjustment = -adjustment
	}
	return &bond.Market{
		ID:                stored.ID,
		Owner:             crypto.NewAddress(crypto.BondPrefix, stored.Owner[:]),
		PayoutToken:       stored.PayoutToken,
		QuoteToken:        stored.QuoteToken,
		Callback:          stored.Callback,
		Kind:              bond.TellerKind(stored.Kind),
		CapacityInQuote:   stored.CapacityInQuote,
		Capacity:          stored.Capacity,
		TotalDebt:         stored.TotalDebt,
		MaxDebt:           stored.MaxDebt,
		MinPrice:          stored.MinPrice,
		ControlVariable:   stored.ControlVariable,
		Scale:             stored.Scale,
		ScaleAdjustment:   adjustment,
		Vesting:           int64(stored.Vesting),
		Conclusion:        int64(stored.Conclusion),
		LastDecay:         int64(stored.LastDecay),
		DepositInterval:   int64(stored.DepositInterval),
		DebtDecayInterval: int64(stored.DebtDecayInterval),
		Closed:            stored.Closed,
		Sold:              stored.Sold,
		Purchased:         stored.Purchased,
	}
}

// MarketGet loads a market record by id.
func (m *Manager) MarketGet(id uint64) (*bond.Market, bool, error) {
	var stored storedMarket
	ok, err := m.kvGet(appendUint64(marketPrefix, id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return marketFromStored(&stored), true, nil
}

// MarketPut persists a market record under its id.
func (m *Manager) MarketPut(mk *bond.Market) error {
	if mk == nil {
		return fmt.Errorf("state: nil market")
	}
	return m.kvPut(appendUint64(marketPrefix, mk.ID), marketToStored(mk))
}

// --- claim instruments and balances ------------------------------------------

type storedClaim struct {
	ID         [32]byte
	Underlying string
	Maturity   uint64
	Issued     *big.Int
	Redeemed   *big.Int
}

// ClaimGet loads a claim instrument by id.
func (m *Manager) ClaimGet(id [32]byte) (*bond.ClaimInstrument, bool, error) {
	var stored storedClaim
	ok, err := m.kvGet(append(append([]byte{}, claimPrefix...), id[:]...), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &bond.ClaimInstrument{
		ID:         stored.ID,
		Underlying: stored.Underlying,
		Maturity:   int64(stored.Maturity),
		Issued:     stored.Issued,
		Redeemed:   stored.Redeemed,
	}, true, nil
}

// ClaimPut persists a claim instrument under its id.
func (m *Manager) ClaimPut(inst *bond.ClaimInstrument) error {
	if inst == nil {
		return fmt.Errorf("state: nil claim instrument")
	}
	stored := &storedClaim{
		ID:         inst.ID,
		Underlying: inst.Underlying,
		Maturity:   uint64(inst.Maturity),
		Issued:     inst.Issued,
		Redeemed:   inst.Redeemed,
	}
	return m.kvPut(append(append([]byte{}, claimPrefix...), inst.ID[:]...), stored)
}

func claimBalanceKey(id [32]byte, addr crypto.Address) []byte {
	key := append([]byte{}, claimBalPrefix...)
	key = append(key, id[:]...)
	key = append(key, '/')
	return append(key, addr.Bytes()...)
}

// ClaimBalance returns the holder's balance for an instrument; missing records
// read as zero.
func (m *Manager) ClaimBalance(id [32]byte, addr crypto.Address) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.kvGet(claimBalanceKey(id, addr), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// ClaimBalancePut persists the holder's balance for an instrument.
func (m *Manager) ClaimBalancePut(id [32]byte, addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: claim balance must be non-negative")
	}
	return m.kvPut(claimBalanceKey(id, addr), amount)
}

// --- token registry -----------------------------------------------------------

type storedToken struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// TokenGet loads a registered token's metadata.
func (m *Manager) TokenGet(symbol string) (*bond.TokenMeta, bool, error) {
	var stored storedToken
	ok, err := m.kvGet(append(append([]byte{}, tokenPrefix...), symbol...), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &bond.TokenMeta{Symbol: stored.Symbol, Name: stored.Name, Decimals: stored.Decimals}, true, nil
}

// TokenPut registers token metadata and indexes the symbol.
func (m *Manager) TokenPut(meta *bond.TokenMeta) error {
	if meta == nil || meta.Symbol == "" {
		return fmt.Errorf("state: token symbol required")
	}
	stored := &storedToken{Symbol: meta.Symbol, Name: meta.Name, Decimals: meta.Decimals}
	if err := m.kvPut(append(append([]byte{}, tokenPrefix...), meta.Symbol...), stored); err != nil {
		return err
	}
	symbols, err := m.TokenList()
	if err != nil {
		return err
	}
	for _, existing := range symbols {
		if existing == meta.Symbol {
			return nil
		}
	}
	symbols = append(symbols, meta.Symbol)
	sort.Strings(symbols)
	return m.kvPut(tokenIndexKey, symbols)
}

// TokenList returns every registered token symbol in lexical order.
func (m *Manager) TokenList() ([]string, error) {
	var symbols []string
	if _, err := m.kvGet(tokenIndexKey, &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}

// --- accounts -----------------------------------------------------------------

type storedBalance struct {
	Asset  string
	Amount *big.Int
}

type storedAccount struct {
	Nonce    uint64
	Balances []storedBalance
}

// GetAccount loads the account record for an address, or nil when absent.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.kvGet(append(append([]byte{}, accountPrefix...), addr.Bytes()...), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	account := types.NewAccount()
	account.Nonce = stored.Nonce
	for _, balance := range stored.Balances {
		account.SetBalance(balance.Asset, balance.Amount)
	}
	return account, nil
}

// PutAccount persists an account record. Balances are stored sorted by asset
// so encoding stays deterministic.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	stored := &storedAccount{Nonce: account.Nonce}
	assets := make([]string, 0, len(account.Balances))
	for asset := range account.Balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		amount := account.Balances[asset]
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		if amount.Sign() < 0 {
			return fmt.Errorf("state: negative balance for %s", asset)
		}
		stored.Balances = append(stored.Balances, storedBalance{Asset: asset, Amount: amount})
	}
	return m.kvPut(append(append([]byte{}, accountPrefix...), addr.Bytes()...), stored)
}

// --- fee rewards --------------------------------------------------------------

func rewardKey(addr crypto.Address, asset string) []byte {
	key := append([]byte{}, rewardPrefix...)
	key = append(key, addr.Bytes()...)
	key = append(key, '/')
	return append(key, asset...)
}

// RewardGet returns the accrued, unclaimed fee reward for an address and
// asset; missing records read as zero.
func (m *Manager) RewardGet(addr crypto.Address, asset string) (*big.Int, error) {
	reward := new(big.Int)
	ok, err := m.kvGet(rewardKey(addr, asset), reward)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return reward, nil
}

// RewardPut persists the accrued fee reward for an address and asset.
func (m *Manager) RewardPut(addr crypto.Address, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: reward must be non-negative")
	}
	return m.kvPut(rewardKey(addr, asset), amount)
}

// --- aggregator ---------------------------------------------------------------

// AggCounterGet returns the highest market id handed out so far.
func (m *Manager) AggCounterGet() (uint64, error) {
	var counter uint64
	if _, err := m.kvGet(aggCounterKey, &counter); err != nil {
		return 0, err
	}
	return counter, nil
}

// AggCounterPut persists the market id counter.
func (m *Manager) AggCounterPut(counter uint64) error {
	return m.kvPut(aggCounterKey, counter)
}

// AggRouteGet resolves the auctioneer handle that owns a market id.
func (m *Manager) AggRouteGet(id uint64) (string, bool, error) {
	var handle string
	ok, err := m.kvGet(appendUint64(aggRoutePrefix, id), &handle)
	if err != nil || !ok {
		return "", false, err
	}
	return handle, true, nil
}

// AggRoutePut records which auctioneer owns a market id.
func (m *Manager) AggRoutePut(id uint64, auctioneer string) error {
	return m.kvPut(appendUint64(aggRoutePrefix, id), auctioneer)
}

func pairKey(payoutToken, quoteToken string) []byte {
	key := append([]byte{}, aggPairPrefix...)
	key = append(key, payoutToken...)
	key = append(key, '/')
	return append(key, quoteToken...)
}

// AggPairGet lists the market ids registered for a traded pair.
func (m *Manager) AggPairGet(payoutToken, quoteToken string) ([]uint64, error) {
	var ids []uint64
	if _, err := m.kvGet(pairKey(payoutToken, quoteToken), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// AggPairPut persists the market id index for a traded pair.
func (m *Manager) AggPairPut(payoutToken, quoteToken string, ids []uint64) error {
	return m.kvPut(pairKey(payoutToken, quoteToken), ids)
}

// --- pauses -------------------------------------------------------------------

// PausesGet loads the persisted operator pause switches.
func (m *Manager) PausesGet() (map[string]bool, error) {
	var modules []string
	if _, err := m.kvGet(pauseKey, &modules); err != nil {
		return nil, err
	}
	paused := make(map[string]bool, len(modules))
	for _, module := range modules {
		paused[module] = true
	}
	return paused, nil
}

// PausesPut persists the operator pause switches.
func (m *Manager) PausesPut(paused map[string]bool) error {
	modules := make([]string, 0, len(paused))
	for module, isPaused := range paused {
		if isPaused {
			modules = append(modules, module)
		}
	}
	sort.Strings(modules)
	return m.kvPut(pauseKey, modules)
}
