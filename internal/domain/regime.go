package domain

// Regime is a coarse market-condition classification.
type Regime string

const (
	RegimeBull   Regime = "BULL"
	RegimeBear   Regime = "BEAR"
	RegimeChop   Regime = "CHOP"
	RegimeCrisis Regime = "CRISIS"
)

// AllRegimes lists regimes in a stable order.
var AllRegimes = []Regime{RegimeBull, RegimeBear, RegimeChop, RegimeCrisis}

// IsValid checks if the regime is a known value.
func (r Regime) IsValid() bool {
	switch r {
	case RegimeBull, RegimeBear, RegimeChop, RegimeCrisis:
		return true
	}
	return false
}

func (r Regime) String() string {
	return string(r)
}
