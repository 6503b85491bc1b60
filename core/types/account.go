package types

import "math/big"

// Account holds the fungible balances for a single address. Balances are keyed
// by asset symbol and denominated in the asset's base units.
type Account struct {
	Nonce    uint64              `json:"nonce"`
	Balances map[string]*big.Int `json:"balances"`
}

// NewAccount returns an account with an empty balance table.
func NewAccount() *Account {
	return &Account{Balances: make(map[string]*big.Int)}
}

// BalanceOf returns the balance held for the given asset, treating missing
// entries as zero. The returned value is a copy.
func (a *Account) BalanceOf(asset string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	bal, ok := a.Balances[asset]
	if !ok || bal == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// SetBalance overwrites the balance held for the given asset.
func (a *Account) SetBalance(asset string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Balances[asset] = new(big.Int).Set(amount)
}
