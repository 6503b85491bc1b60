package bond

const moduleName = "bond"

const (
	// feeDenominator scales the teller fee configuration (basis points).
	feeDenominator = 10_000
	// debtBufferDenominator scales the market debt buffer (hundredths of a
	// basis point, so 10_000 reads as a 10% tolerance).
	debtBufferDenominator = 100_000

	daySeconds = 86_400

	// minDebtDecayInterval floors the window over which market debt decays
	// back to its target pace; short deposit intervals would otherwise let
	// the price collapse between purchases.
	minDebtDecayInterval = 3 * daySeconds
	debtDecayIntervals   = 5

	// maxFixedTermVesting bounds fixed-term vesting lengths; anything
	// longer is almost certainly a timestamp passed to the wrong teller.
	maxFixedTermVesting = 50 * 365 * daySeconds

	// Scale adjustments beyond this magnitude cannot correspond to real
	// token precisions and would overflow the internal price scale.
	maxScaleAdjustment = 24
)

// FeeConfig captures the settlement-time quote deductions applied by the
// teller. Values are basis points; destinations receive accrued rewards that
// they claim through the teller.
type FeeConfig struct {
	ProtocolFeeBps uint64
	ReferrerFeeBps uint64
}
