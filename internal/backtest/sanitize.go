package backtest

import "math"

// Sentinels substituted for non-finite report values.
const (
	PositiveSentinel = 99999.0
	NegativeSentinel = -99999.0
)

// Sanitize maps +Inf and -Inf to the finite sentinels and NaN to 0.
func Sanitize(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return PositiveSentinel
	case math.IsInf(v, -1):
		return NegativeSentinel
	default:
		return v
	}
}
