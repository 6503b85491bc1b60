package bond

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"bondmarket/crypto"
)

var errLedgerNilState = errors.New("bond ledger: state not configured")

type ledgerState interface {
	ClaimGet(id [32]byte) (*ClaimInstrument, bool, error)
	ClaimPut(inst *ClaimInstrument) error
	ClaimBalance(id [32]byte, addr crypto.Address) (*big.Int, error)
	ClaimBalancePut(id [32]byte, addr crypto.Address, amount *big.Int) error
}

// ClaimID derives the deterministic instrument identifier for a payout token
// and maturity. Every market selling the same token with the same maturity
// mints into the same instrument.
func ClaimID(underlying string, maturity int64) [32]byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(maturity))
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256([]byte(underlying), buf))
	return id
}

// ClaimLedger maintains the fungible claim balances and the per-instrument
// issuance totals backing the teller's custody pool.
type ClaimLedger struct {
	state ledgerState
}

// NewClaimLedger constructs a ledger bound to the provided state backend.
func NewClaimLedger(state ledgerState) *ClaimLedger {
	return &ClaimLedger{state: state}
}

// Instrument returns the claim instrument for the given key, lazily creating
// the record on first use. The second return reports whether the instrument
// was created by this call.
func (l *ClaimLedger) Instrument(underlying string, maturity int64) (*ClaimInstrument, bool, error) {
	if l == nil || l.state == nil {
		return nil, false, errLedgerNilState
	}
	id := ClaimID(underlying, maturity)
	inst, ok, err := l.state.ClaimGet(id)
	if err != nil {
		return nil, false, err
	}
	if ok && inst != nil {
		inst.Issued = bigZeroIfNil(inst.Issued)
		inst.Redeemed = bigZeroIfNil(inst.Redeemed)
		return inst, false, nil
	}
	inst = &ClaimInstrument{
		ID:         id,
		Underlying: underlying,
		Maturity:   maturity,
		Issued:     big.NewInt(0),
		Redeemed:   big.NewInt(0),
	}
	if err := l.state.ClaimPut(inst); err != nil {
		return nil, false, err
	}
	return inst, true, nil
}

// Mint credits the recipient's balance under the instrument for the given
// key, creating the instrument when absent, and bumps the issuance total.
func (l *ClaimLedger) Mint(underlying string, maturity int64, recipient crypto.Address, amount *big.Int) (*ClaimInstrument, error) {
	inst, _, err := l.MintTracked(underlying, maturity, recipient, amount)
	return inst, err
}

// MintTracked is Mint plus a flag reporting whether this call instantiated
// the instrument, letting callers emit the deployment exactly once.
func (l *ClaimLedger) MintTracked(underlying string, maturity int64, recipient crypto.Address, amount *big.Int) (*ClaimInstrument, bool, error) {
	if l == nil || l.state == nil {
		return nil, false, errLedgerNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, false, fmt.Errorf("%w: mint amount must be positive", ErrInvalidParams)
	}
	inst, created, err := l.Instrument(underlying, maturity)
	if err != nil {
		return nil, false, err
	}
	balance, err := l.state.ClaimBalance(inst.ID, recipient)
	if err != nil {
		return nil, false, err
	}
	balance = new(big.Int).Add(bigZeroIfNil(balance), amount)
	if err := l.state.ClaimBalancePut(inst.ID, recipient, balance); err != nil {
		return nil, false, err
	}
	inst.Issued = new(big.Int).Add(inst.Issued, amount)
	if err := l.state.ClaimPut(inst); err != nil {
		return nil, false, err
	}
	return inst, created, nil
}

// Burn debits the caller's balance and bumps the instrument's redeemed total.
// Balances never go negative; a short balance rejects the whole burn.
func (l *ClaimLedger) Burn(id [32]byte, caller crypto.Address, amount *big.Int) (*ClaimInstrument, error) {
	if l == nil || l.state == nil {
		return nil, errLedgerNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: burn amount must be positive", ErrInvalidParams)
	}
	inst, ok, err := l.state.ClaimGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || inst == nil {
		return nil, ErrUnknownClaim
	}
	inst.Issued = bigZeroIfNil(inst.Issued)
	inst.Redeemed = bigZeroIfNil(inst.Redeemed)
	balance, err := l.state.ClaimBalance(id, caller)
	if err != nil {
		return nil, err
	}
	balance = bigZeroIfNil(balance)
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}
	if err := l.state.ClaimBalancePut(id, caller, new(big.Int).Sub(balance, amount)); err != nil {
		return nil, err
	}
	inst.Redeemed = new(big.Int).Add(inst.Redeemed, amount)
	if err := l.state.ClaimPut(inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// BalanceOf returns the caller's claim balance for an instrument.
func (l *ClaimLedger) BalanceOf(id [32]byte, addr crypto.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errLedgerNilState
	}
	balance, err := l.state.ClaimBalance(id, addr)
	if err != nil {
		return nil, err
	}
	return bigZeroIfNil(balance), nil
}

// Lookup fetches an instrument by id without creating it.
func (l *ClaimLedger) Lookup(id [32]byte) (*ClaimInstrument, bool, error) {
	if l == nil || l.state == nil {
		return nil, false, errLedgerNilState
	}
	return l.state.ClaimGet(id)
}
