package strategy

import (
	"fmt"

	"github.com/newthinker/barsim/internal/core"
)

// Params configures a strategy run. Variant-specific fields are ignored by
// variants that do not use them.
type Params struct {
	// Name selects the registered variant.
	Name   string `json:"name"`
	Period int    `json:"period"`
	// RiskFraction is the share of available cash committed on entry.
	RiskFraction float64 `json:"risk_fraction"`
	// StopLossFraction closes the position once close < entry * (1 - fraction).
	StopLossFraction float64 `json:"stop_loss_fraction"`
	Oversold         float64 `json:"oversold,omitempty"`
	Overbought       float64 `json:"overbought,omitempty"`
	// Mode is "reversion" or "trend" for ma_crossover.
	Mode string `json:"mode,omitempty"`
	// Unit is the tradable lot size; order sizes are rounded down to it.
	Unit float64 `json:"unit,omitempty"`
}

// DefaultParams returns the SMA(20) mean-reversion setup with 2% risk and a
// 2% stop.
func DefaultParams() Params {
	return Params{
		Name:             "ma_crossover",
		Period:           20,
		RiskFraction:     0.02,
		StopLossFraction: 0.02,
		Oversold:         30,
		Overbought:       70,
		Mode:             "reversion",
		Unit:             1,
	}
}

// Validate checks the parameters shared by every variant.
func (p Params) Validate() error {
	if p.Period <= 0 {
		return invalid("period must be positive, got %d", p.Period)
	}
	if p.RiskFraction <= 0 || p.RiskFraction > 1 {
		return invalid("risk_fraction must be in (0,1], got %v", p.RiskFraction)
	}
	if p.StopLossFraction <= 0 || p.StopLossFraction > 1 {
		return invalid("stop_loss_fraction must be in (0,1], got %v", p.StopLossFraction)
	}
	if p.Unit < 0 {
		return invalid("unit cannot be negative, got %v", p.Unit)
	}
	return nil
}

// ValidateThresholds checks an oversold/overbought pair.
func ValidateThresholds(oversold, overbought float64) error {
	if oversold <= 0 || oversold >= 100 {
		return invalid("oversold must be in (0,100), got %v", oversold)
	}
	if overbought <= 0 || overbought >= 100 {
		return invalid("overbought must be in (0,100), got %v", overbought)
	}
	if oversold >= overbought {
		return invalid("oversold (%v) must be below overbought (%v)", oversold, overbought)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return core.WrapError(core.ErrConfigInvalid, fmt.Errorf(format, args...))
}
