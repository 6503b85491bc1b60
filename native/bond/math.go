package bond

import "math/big"

// PriceDecimals is the number of decimals carried by every formatted price.
// The wide internal scale gives headroom for the full range of payout/quote
// decimal combinations without precision loss.
const PriceDecimals = 36

var bigOne = big.NewInt(1)

func pow10(exp int) *big.Int {
	if exp < 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// tokenScale returns 10^(36+adjustment), the per-market scale reconciling the
// payout and quote token precisions inside the price math. The adjustment is
// the creator-supplied signed decimal correction.
func tokenScale(adjustment int8) *big.Int {
	return pow10(PriceDecimals + int(adjustment))
}

// mulDiv computes a*b/den with full intermediate precision, truncating toward
// zero. Division never rounds up so the engine cannot invent value.
func mulDiv(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

// mulDivUp computes a*b/den rounding away from zero on any nonzero remainder.
// Prices round up so truncation always favours the seller.
func mulDivUp(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	prod := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(prod, den, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, bigOne)
	}
	return quo
}

func bigZeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
