package backtest

import (
	"math"

	"github.com/newthinker/barsim/internal/broker"
)

// Analyze computes the report from the trade ledger and equity curve. The
// result is sanitized and rounded; every field is finite.
func Analyze(trades []broker.Trade, equity []EquityPoint, cfg Config) Report {
	values := make([]float64, 0, len(equity)+1)
	values = append(values, cfg.InitialCash)
	for _, p := range equity {
		values = append(values, p.Value)
	}

	dd := calculateDrawdown(values)
	ts := calculateTradeStats(trades)

	r := Report{
		TotalReturn:        calculateTotalReturn(values),
		SharpeRatio:        calculateSharpeRatio(values, cfg.RiskFreeRate, cfg.BarsPerYear),
		MaxDrawdown:        dd.fraction,
		MaxDrawdownMoney:   dd.money,
		MaxDrawdownLength:  dd.length,
		TotalTrades:        ts.total,
		WinningTrades:      ts.won,
		LosingTrades:       ts.lost,
		WinRate:            ts.winRate(),
		AverageTradeLength: ts.averageLength(),
		GrossProfit:        ts.grossProfit,
		GrossLoss:          ts.grossLoss,
		MaxProfit:          ts.maxProfit,
		MaxLoss:            ts.maxLoss,
		FinalValue:         values[len(values)-1],
	}
	return r.normalize()
}

// calculateTotalReturn compounds the per-bar ratios of values. When the
// product is not finite, as it is when a value touches zero, it falls back
// to (final - initial) / initial.
func calculateTotalReturn(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	growth := 1.0
	for i := 1; i < len(values); i++ {
		growth *= values[i] / values[i-1]
	}
	total := growth - 1
	if math.IsInf(total, 0) || math.IsNaN(total) {
		initial, final := values[0], values[len(values)-1]
		total = (final - initial) / initial
	}
	return total
}

type drawdown struct {
	fraction float64
	money    float64
	length   int
}

// calculateDrawdown tracks the running peak of values. Fraction and money
// maxima are tracked independently; length is the longest run of bars spent
// below a peak, counted until recovery or the end of the series.
func calculateDrawdown(values []float64) drawdown {
	var dd drawdown
	if len(values) == 0 {
		return dd
	}

	peak := values[0]
	run := 0
	for _, v := range values[1:] {
		if v >= peak {
			peak = v
			run = 0
			continue
		}
		run++
		dd.length = max(dd.length, run)
		dd.money = max(dd.money, peak-v)
		if peak > 0 {
			dd.fraction = max(dd.fraction, (peak-v)/peak)
		}
	}
	return dd
}

// calculateSharpeRatio annualizes the mean excess per-bar return over its
// sample standard deviation. Fewer than two returns or zero volatility give 0.
func calculateSharpeRatio(values []float64, riskFree, barsPerYear float64) float64 {
	if len(values) < 3 || barsPerYear <= 0 {
		return 0
	}

	rf := math.Pow(1+riskFree, 1/barsPerYear) - 1
	excess := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			return 0
		}
		excess = append(excess, values[i]/values[i-1]-1-rf)
	}

	var sum float64
	for _, r := range excess {
		sum += r
	}
	mean := sum / float64(len(excess))

	var variance float64
	for _, r := range excess {
		variance += (r - mean) * (r - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(excess)-1))

	if stdDev < 1e-12 {
		return 0
	}
	return mean / stdDev * math.Sqrt(barsPerYear)
}

type tradeStats struct {
	total       int
	won         int
	lost        int
	bars        int
	grossProfit float64
	grossLoss   float64
	maxProfit   float64
	maxLoss     float64
}

func calculateTradeStats(trades []broker.Trade) tradeStats {
	var s tradeStats
	for _, t := range trades {
		s.total++
		s.bars += t.BarLength
		if t.IsWin() {
			s.won++
			s.grossProfit += t.PnL
			s.maxProfit = max(s.maxProfit, t.PnL)
			continue
		}
		s.lost++
		loss := -t.PnL
		s.grossLoss += loss
		s.maxLoss = max(s.maxLoss, loss)
	}
	return s
}

func (s tradeStats) winRate() float64 {
	if s.total == 0 {
		return 0
	}
	return float64(s.won) / float64(s.total)
}

func (s tradeStats) averageLength() float64 {
	if s.total == 0 {
		return 0
	}
	return float64(s.bars) / float64(s.total)
}
