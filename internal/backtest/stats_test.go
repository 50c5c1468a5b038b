package backtest

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/newthinker/barsim/internal/broker"
	"github.com/newthinker/barsim/internal/core"
)

func TestCalculateTotalReturn(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"single", []float64{100}, 0},
		{"gain", []float64{100, 110, 121}, 0.21},
		{"loss", []float64{100, 90}, -0.1},
		{"touches zero falls back to endpoints", []float64{100, 0, 50}, -0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, calculateTotalReturn(tt.values), 1e-12)
		})
	}
}

func TestCalculateDrawdown(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   drawdown
	}{
		{"flat", []float64{100, 100, 100}, drawdown{}},
		{"rising", []float64{100, 101, 102}, drawdown{}},
		{"recovered", []float64{100, 120, 90, 100, 130}, drawdown{fraction: 0.25, money: 30, length: 2}},
		{"never recovered", []float64{100, 80, 90, 85}, drawdown{fraction: 0.2, money: 20, length: 3}},
		{
			name:   "money and fraction peak separately",
			values: []float64{100, 50, 100, 1000, 800, 1000},
			want:   drawdown{fraction: 0.5, money: 200, length: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calculateDrawdown(tt.values)
			assert.InDelta(t, tt.want.fraction, got.fraction, 1e-12)
			assert.InDelta(t, tt.want.money, got.money, 1e-12)
			assert.Equal(t, tt.want.length, got.length)
		})
	}
}

func TestCalculateSharpeRatio(t *testing.T) {
	t.Run("too few returns", func(t *testing.T) {
		assert.Equal(t, 0.0, calculateSharpeRatio([]float64{100, 101}, 0, 252))
	})

	t.Run("zero volatility", func(t *testing.T) {
		assert.Equal(t, 0.0, calculateSharpeRatio([]float64{100, 100, 100, 100}, 0.01, 252))
	})

	t.Run("annualized", func(t *testing.T) {
		values := []float64{100, 102, 101, 104}
		r := []float64{0.02, 101.0/102 - 1, 104.0/101 - 1}
		mean := (r[0] + r[1] + r[2]) / 3
		var v float64
		for _, x := range r {
			v += (x - mean) * (x - mean)
		}
		want := mean / math.Sqrt(v/2) * math.Sqrt(252)

		assert.InDelta(t, want, calculateSharpeRatio(values, 0, 252), 1e-9)
	})

	t.Run("risk free lowers ratio", func(t *testing.T) {
		values := []float64{100, 102, 101, 104}
		assert.Less(t, calculateSharpeRatio(values, 0.05, 252), calculateSharpeRatio(values, 0, 252))
	})
}

func TestCalculateTradeStats(t *testing.T) {
	trades := []broker.Trade{
		{PnL: 100, BarLength: 3},
		{PnL: -40, BarLength: 2},
		{PnL: 25, BarLength: 4},
		{PnL: -60, BarLength: 1},
		{PnL: 0, BarLength: 5},
	}

	s := calculateTradeStats(trades)
	assert.Equal(t, 5, s.total)
	assert.Equal(t, 2, s.won)
	assert.Equal(t, 3, s.lost)
	assert.Equal(t, 125.0, s.grossProfit)
	assert.Equal(t, 100.0, s.grossLoss)
	assert.Equal(t, 100.0, s.maxProfit)
	assert.Equal(t, 60.0, s.maxLoss)
	assert.Equal(t, 0.4, s.winRate())
	assert.Equal(t, 3.0, s.averageLength())

	empty := calculateTradeStats(nil)
	assert.Equal(t, 0.0, empty.winRate())
	assert.Equal(t, 0.0, empty.averageLength())
}

func TestAnalyze_RoundsAndSanitizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialCash = 3
	equity := []EquityPoint{{Value: 3}, {Value: 4}}
	trades := []broker.Trade{{PnL: 1.25, BarLength: 1}, {PnL: 2.0, BarLength: 2}, {PnL: -0.3333333, BarLength: 2}}

	r := Analyze(trades, equity, cfg)
	assert.Equal(t, 0.3333, r.TotalReturn)
	assert.Equal(t, 0.6667, r.WinRate)
	assert.Equal(t, 1.7, r.AverageTradeLength)
	assert.Equal(t, 3.25, r.GrossProfit)
	assert.Equal(t, 0.33, r.GrossLoss)
	assert.Equal(t, 4.0, r.FinalValue)
}

func TestAnalyze_NonFiniteInputs(t *testing.T) {
	cfg := DefaultConfig()
	trades := []broker.Trade{{PnL: math.Inf(1)}, {PnL: math.Inf(-1)}}
	equity := []EquityPoint{{Value: math.NaN()}}

	r := Analyze(trades, equity, cfg)
	assert.Equal(t, PositiveSentinel, r.GrossProfit)
	assert.Equal(t, PositiveSentinel, r.MaxLoss)
	assert.Equal(t, 0.0, r.FinalValue)
	for _, v := range []float64{r.TotalReturn, r.SharpeRatio, r.MaxDrawdown, r.MaxDrawdownMoney} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, 99999.0, Sanitize(math.Inf(1)))
	assert.Equal(t, -99999.0, Sanitize(math.Inf(-1)))
	assert.Equal(t, 0.0, Sanitize(math.NaN()))
	assert.Equal(t, 1.5, Sanitize(1.5))
}

func TestBarsPerYear(t *testing.T) {
	assert.Equal(t, 252.0, BarsPerYear("1d"))
	assert.Equal(t, 252.0*78, BarsPerYear("5m"))
	assert.Equal(t, 1638.0, BarsPerYear("1h"))
	assert.Equal(t, 52.0, BarsPerYear("1wk"))
	assert.Equal(t, 252.0, BarsPerYear("unknown"))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"next bar", func(c *Config) { c.FillPolicy = broker.FillNextBarOpen }, false},
		{"no cash", func(c *Config) { c.InitialCash = 0 }, true},
		{"negative commission", func(c *Config) { c.CommissionRate = -1 }, true},
		{"unknown fill", func(c *Config) { c.FillPolicy = "vwap" }, true},
		{"zero bars per year", func(c *Config) { c.BarsPerYear = 0 }, true},
		{"nan risk free", func(c *Config) { c.RiskFreeRate = math.NaN() }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, core.ErrConfigInvalid), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewFailure_ConfigError(t *testing.T) {
	err := core.WrapError(core.ErrConfigInvalid, errors.New("period must be positive"))
	f := NewFailure(err)

	assert.Equal(t, "error", f.Status)
	assert.Equal(t, "CONFIG_INVALID", f.Code)
	assert.Nil(t, f.Bar)
	assert.Contains(t, f.Error, "period must be positive")
	assert.NotEmpty(t, f.Traceback)
}
