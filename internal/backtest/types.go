package backtest

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/newthinker/barsim/internal/broker"
	"github.com/newthinker/barsim/internal/core"
)

// Config holds the run-wide settings of a backtest.
type Config struct {
	InitialCash    float64
	CommissionRate float64
	FillPolicy     broker.FillPolicy
	// RiskFreeRate is annual; Sharpe converts it to a per-bar rate.
	RiskFreeRate float64
	// BarsPerYear annualizes the Sharpe ratio.
	BarsPerYear float64
	// LiquidateAtEnd closes an open position at the final close.
	LiquidateAtEnd bool
}

// DefaultConfig returns 100k cash, 0.1% commission, same-bar fills and a 1%
// risk-free rate on daily bars.
func DefaultConfig() Config {
	return Config{
		InitialCash:    100000,
		CommissionRate: 0.001,
		FillPolicy:     broker.FillSameBar,
		RiskFreeRate:   0.01,
		BarsPerYear:    252,
	}
}

// Validate checks the configuration before a run starts.
func (c Config) Validate() error {
	if err := c.brokerConfig().Validate(); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}
	if c.BarsPerYear <= 0 || math.IsInf(c.BarsPerYear, 0) || math.IsNaN(c.BarsPerYear) {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("bars_per_year must be positive, got %v", c.BarsPerYear))
	}
	if math.IsInf(c.RiskFreeRate, 0) || math.IsNaN(c.RiskFreeRate) || c.RiskFreeRate <= -1 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("risk_free_rate out of range: %v", c.RiskFreeRate))
	}
	return nil
}

func (c Config) brokerConfig() broker.Config {
	return broker.Config{
		InitialCash:    c.InitialCash,
		CommissionRate: c.CommissionRate,
		FillPolicy:     c.FillPolicy,
	}
}

// BarsPerYear returns the annualization factor for a bar interval label
// such as "5m" or "1d", assuming 252 sessions of 6.5 hours. Unknown
// intervals fall back to 252.
func BarsPerYear(interval string) float64 {
	const sessions, minutesPerSession = 252.0, 390.0
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "1m":
		return sessions * minutesPerSession
	case "2m":
		return sessions * minutesPerSession / 2
	case "5m":
		return sessions * minutesPerSession / 5
	case "15m":
		return sessions * minutesPerSession / 15
	case "30m":
		return sessions * minutesPerSession / 30
	case "60m", "1h":
		return sessions * 6.5
	case "1wk", "1w":
		return 52
	case "1mo":
		return 12
	default:
		return sessions
	}
}

// EquityPoint is the account value at one bar's close.
type EquityPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Result holds the complete output of a successful run.
type Result struct {
	RunID       string          `json:"runId"`
	Strategy    string          `json:"strategy"`
	Description string          `json:"description"`
	Symbol      string          `json:"symbol"`
	Interval    string          `json:"interval"`
	StartDate   time.Time       `json:"startDate"`
	EndDate     time.Time       `json:"endDate"`
	Bars        int             `json:"bars"`
	Orders      []broker.Order  `json:"orders"`
	Trades      []broker.Trade  `json:"trades"`
	Equity      []EquityPoint   `json:"equity"`
	// OpenPosition is the position left when LiquidateAtEnd is off.
	OpenPosition broker.Position `json:"openPosition"`
	Report       Report          `json:"report"`
}

