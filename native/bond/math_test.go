package bond

import (
	"math/big"
	"testing"
)

func TestMulDivRoundsDown(t *testing.T) {
	got := mulDiv(big.NewInt(10), big.NewInt(10), big.NewInt(3))
	if got.Cmp(big.NewInt(33)) != 0 {
		t.Fatalf("expected 33, got %s", got)
	}
	if got := mulDiv(nil, big.NewInt(1), big.NewInt(1)); got.Sign() != 0 {
		t.Fatalf("expected zero for nil operand, got %s", got)
	}
	if got := mulDiv(big.NewInt(5), big.NewInt(5), nil); got.Sign() != 0 {
		t.Fatalf("expected zero for nil denominator, got %s", got)
	}
}

func TestMulDivUpRoundsAwayOnRemainder(t *testing.T) {
	if got := mulDivUp(big.NewInt(10), big.NewInt(10), big.NewInt(3)); got.Cmp(big.NewInt(34)) != 0 {
		t.Fatalf("expected 34, got %s", got)
	}
	if got := mulDivUp(big.NewInt(10), big.NewInt(3), big.NewInt(3)); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("exact division must not round, got %s", got)
	}
	if got := mulDivUp(big.NewInt(0), big.NewInt(7), big.NewInt(3)); got.Sign() != 0 {
		t.Fatalf("expected zero numerator to stay zero, got %s", got)
	}
}

func TestTokenScale(t *testing.T) {
	base := pow10(36)
	if got := tokenScale(0); got.Cmp(base) != 0 {
		t.Fatalf("expected 10^36, got %s", got)
	}
	if got := tokenScale(-9); got.Cmp(pow10(27)) != 0 {
		t.Fatalf("expected 10^27, got %s", got)
	}
	if got := tokenScale(12); got.Cmp(pow10(48)) != 0 {
		t.Fatalf("expected 10^48, got %s", got)
	}
}
