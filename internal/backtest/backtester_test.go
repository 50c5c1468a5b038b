package backtest_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/barsim/internal/backtest"
	"github.com/newthinker/barsim/internal/broker"
	"github.com/newthinker/barsim/internal/core"
	"github.com/newthinker/barsim/internal/indicator"
	"github.com/newthinker/barsim/internal/strategy"
	"github.com/newthinker/barsim/internal/strategy/ma_crossover"
	"github.com/newthinker/barsim/internal/strategy/rsi_threshold"
)

func makeBars(closes ...float64) []core.OHLCV {
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	bars := make([]core.OHLCV, len(closes))
	for i, c := range closes {
		bars[i] = core.OHLCV{
			Symbol:   "TEST",
			Interval: "1d",
			Open:     c,
			High:     c,
			Low:      c,
			Close:    c,
			Volume:   1000,
			Time:     start.AddDate(0, 0, i),
		}
	}
	return bars
}

func maParams(period int, mode ma_crossover.Mode) strategy.Params {
	p := strategy.DefaultParams()
	p.Name = ma_crossover.Name
	p.Period = period
	p.Mode = string(mode)
	p.RiskFraction = 0.5
	p.StopLossFraction = 0.05
	return p
}

func runMA(t *testing.T, cfg backtest.Config, bars []core.OHLCV, p strategy.Params) (*backtest.Result, error) {
	t.Helper()
	src, err := ma_crossover.Factory(p)
	require.NoError(t, err)
	return backtest.New(cfg, nil).Run(bars, src, p)
}

func assertTradeInvariants(t *testing.T, res *backtest.Result) {
	t.Helper()
	for i, tr := range res.Trades {
		assert.Equal(t, (tr.ExitPrice-tr.EntryPrice)*tr.Size-tr.Commission, tr.PnL, "trade %d P&L", i)
	}
	assert.GreaterOrEqual(t, res.Report.WinRate, 0.0)
	assert.LessOrEqual(t, res.Report.WinRate, 1.0)
	assertFinite(t, res.Report)
}

func assertFinite(t *testing.T, r backtest.Report) {
	t.Helper()
	for name, v := range map[string]float64{
		"TotalReturn":        r.TotalReturn,
		"SharpeRatio":        r.SharpeRatio,
		"MaxDrawdown":        r.MaxDrawdown,
		"MaxDrawdownMoney":   r.MaxDrawdownMoney,
		"WinRate":            r.WinRate,
		"AverageTradeLength": r.AverageTradeLength,
		"GrossProfit":        r.GrossProfit,
		"GrossLoss":          r.GrossLoss,
		"MaxProfit":          r.MaxProfit,
		"MaxLoss":            r.MaxLoss,
		"FinalValue":         r.FinalValue,
	} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s is not finite: %v", name, v)
	}
}

func TestRun_IncreasingSeriesOneTrade(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	cfg := backtest.DefaultConfig()
	cfg.LiquidateAtEnd = true

	res, err := runMA(t, cfg, makeBars(closes...), maParams(3, ma_crossover.ModeTrend))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, 2, tr.EntryBar)
	assert.Equal(t, 102.0, tr.EntryPrice)
	assert.Equal(t, 29, tr.ExitBar)
	assert.Equal(t, 129.0, tr.ExitPrice)
	assert.Equal(t, backtest.ReasonEndOfData, tr.ExitReason)

	// 0.5 * 100000 / 102 = 490.19 -> 490 units
	assert.Equal(t, 490.0, tr.Size)
	commissions := 0.001*102*490 + 0.001*129*490
	assert.InDelta(t, (129.0-102.0)*490-commissions, tr.PnL, 1e-9)

	r := res.Report
	assert.Equal(t, 1, r.TotalTrades)
	assert.Equal(t, 1, r.WinningTrades)
	assert.Equal(t, 1.0, r.WinRate)
	assert.Equal(t, 27.0, r.AverageTradeLength)
	assert.True(t, res.OpenPosition.IsFlat())
	assert.Len(t, res.Equity, 30)
	assertTradeInvariants(t, res)
}

func TestRun_FlatSeries(t *testing.T) {
	closes := make([]float64, 50)
	for i := range closes {
		closes[i] = 42
	}

	res, err := runMA(t, backtest.DefaultConfig(), makeBars(closes...), maParams(20, ma_crossover.ModeReversion))
	require.NoError(t, err)

	r := res.Report
	assert.Equal(t, backtest.Report{FinalValue: 100000}, r)
	assert.Empty(t, res.Trades)
	assert.Empty(t, res.Orders)
	assertFinite(t, r)
}

func TestRun_StopLossTakesPrecedence(t *testing.T) {
	// trend entry at 102; 96 is below both the SMA and 102 * 0.95
	bars := makeBars(100, 101, 102, 103, 96, 97, 98)

	res, err := runMA(t, backtest.DefaultConfig(), bars, maParams(3, ma_crossover.ModeTrend))
	require.NoError(t, err)

	require.NotEmpty(t, res.Trades)
	tr := res.Trades[0]
	assert.Equal(t, 2, tr.EntryBar)
	assert.Equal(t, 4, tr.ExitBar)
	assert.Equal(t, 96.0, tr.ExitPrice)
	assert.Equal(t, strategy.ReasonStopLoss, tr.ExitReason)

	var exit broker.Order
	for _, o := range res.Orders {
		if o.ExecutedBar == 4 {
			exit = o
		}
	}
	assert.Equal(t, broker.OrderSideClose, exit.Side)
	assert.Equal(t, broker.OrderStatusCompleted, exit.Status)
	assertTradeInvariants(t, res)
}

func TestRun_StopLossOnReversion(t *testing.T) {
	// reversion entry at 99, then a drop past 99 * 0.95 = 94.05
	bars := makeBars(100, 100, 100, 99, 94, 94)

	res, err := runMA(t, backtest.DefaultConfig(), bars, maParams(3, ma_crossover.ModeReversion))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, 3, res.Trades[0].EntryBar)
	assert.Equal(t, 4, res.Trades[0].ExitBar)
	assert.Equal(t, strategy.ReasonStopLoss, res.Trades[0].ExitReason)
	assert.Less(t, res.Trades[0].PnL, 0.0)
	assert.Equal(t, 0.0, res.Report.WinRate)
	assert.Equal(t, 1, res.Report.LosingTrades)
}

func TestRun_InsufficientCashIsMargin(t *testing.T) {
	bars := makeBars(110, 110, 110, 100, 100, 100)
	p := maParams(3, ma_crossover.ModeReversion)
	p.RiskFraction = 1

	res, err := runMA(t, backtest.DefaultConfig(), bars, p)
	require.NoError(t, err)

	require.NotEmpty(t, res.Orders)
	for _, o := range res.Orders {
		assert.Equal(t, broker.OrderStatusMargin, o.Status)
		assert.Equal(t, broker.OrderSideBuy, o.Side)
	}
	assert.Equal(t, len(res.Orders), res.Report.FailedOrders)
	assert.Empty(t, res.Trades)
	assert.True(t, res.OpenPosition.IsFlat())
	assert.Len(t, res.Equity, len(bars))
	assert.Equal(t, 100000.0, res.Report.FinalValue)
}

func TestRun_NextBarOpen(t *testing.T) {
	bars := makeBars(100, 100, 100, 99, 101, 103, 102)
	bars[4].Open = 100.5

	cfg := backtest.DefaultConfig()
	cfg.FillPolicy = broker.FillNextBarOpen

	res, err := runMA(t, cfg, bars, maParams(3, ma_crossover.ModeReversion))
	require.NoError(t, err)

	require.NotEmpty(t, res.Orders)
	buy := res.Orders[0]
	assert.Equal(t, broker.OrderSideBuy, buy.Side)
	assert.Equal(t, 3, buy.CreatedBar)
	assert.Equal(t, 4, buy.ExecutedBar)
	assert.Equal(t, 100.5, buy.ExecutedPrice)
	assertTradeInvariants(t, res)
}

func TestRun_PendingOrderCanceledAtEnd(t *testing.T) {
	bars := makeBars(100, 100, 100, 99)
	cfg := backtest.DefaultConfig()
	cfg.FillPolicy = broker.FillNextBarOpen

	res, err := runMA(t, cfg, bars, maParams(3, ma_crossover.ModeReversion))
	require.NoError(t, err)

	require.Len(t, res.Orders, 1)
	assert.Equal(t, broker.OrderStatusCanceled, res.Orders[0].Status)
	assert.Equal(t, 0, res.Report.FailedOrders)
	assert.Empty(t, res.Trades)
}

func TestRun_Idempotent(t *testing.T) {
	closes := []float64{100, 98, 97, 99, 101, 104, 100, 96, 95, 97, 102, 105, 103, 99, 98, 101}
	bars := makeBars(closes...)
	p := strategy.DefaultParams()
	p.Name = rsi_threshold.Name
	p.Period = 3
	p.RiskFraction = 0.3

	run := func() backtest.Report {
		src, err := rsi_threshold.Factory(p)
		require.NoError(t, err)
		res, err := backtest.New(backtest.DefaultConfig(), nil).Run(bars, src, p)
		require.NoError(t, err)
		assertTradeInvariants(t, res)
		return res.Report
	}

	assert.Equal(t, run(), run())
}

func TestRun_SingleBar(t *testing.T) {
	res, err := runMA(t, backtest.DefaultConfig(), makeBars(50), maParams(1, ma_crossover.ModeReversion))
	require.NoError(t, err)
	assertFinite(t, res.Report)
	assert.Equal(t, 0.0, res.Report.SharpeRatio)
}

func TestRun_RejectsBadInput(t *testing.T) {
	good := makeBars(1, 2, 3)
	dup := makeBars(1, 2, 3)
	dup[2].Time = dup[1].Time

	infinite := makeBars(1, 2, 3)
	infinite[1].Close = math.Inf(1)

	badCash := backtest.DefaultConfig()
	badCash.InitialCash = 0

	tests := []struct {
		name   string
		cfg    backtest.Config
		bars   []core.OHLCV
		params strategy.Params
		want   error
	}{
		{"empty series", backtest.DefaultConfig(), nil, maParams(3, ""), core.ErrNoData},
		{"duplicate timestamps", backtest.DefaultConfig(), dup, maParams(3, ""), core.ErrInvalidData},
		{"non-finite close", backtest.DefaultConfig(), infinite, maParams(3, ""), core.ErrInvalidData},
		{"zero cash", badCash, good, maParams(3, ""), core.ErrConfigInvalid},
		{"risk above one", backtest.DefaultConfig(), good, func() strategy.Params {
			p := maParams(3, "")
			p.RiskFraction = 2
			return p
		}(), core.ErrConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := ma_crossover.New(3, "")
			require.NoError(t, err)
			_, err = backtest.New(tt.cfg, nil).Run(tt.bars, src, tt.params)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var rerr *backtest.RunError
			assert.False(t, errors.As(err, &rerr), "input errors are not run failures")
		})
	}
}

type faultySource struct {
	failAt int
	panics bool
}

func (f *faultySource) Name() string                   { return "faulty" }
func (f *faultySource) Description() string            { return "fails mid-run" }
func (f *faultySource) Bind([]core.OHLCV) error        { return nil }
func (f *faultySource) Indicators() []indicator.Series { return nil }
func (f *faultySource) Signal(i int) (strategy.Signal, error) {
	if i == f.failAt {
		if f.panics {
			var m map[string]int
			m["boom"]++
		}
		return strategy.SignalNone, errors.New("corrupted state")
	}
	return strategy.SignalNone, nil
}

func TestRun_FaultAbortsRun(t *testing.T) {
	tests := []struct {
		name   string
		panics bool
	}{
		{"error", false},
		{"panic", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &faultySource{failAt: 2, panics: tt.panics}
			res, err := backtest.New(backtest.DefaultConfig(), nil).Run(makeBars(1, 2, 3, 4), src, maParams(3, ""))

			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, core.ErrRunFailed))

			var rerr *backtest.RunError
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, 2, rerr.Bar)
			assert.NotEmpty(t, rerr.Message)
			assert.Contains(t, rerr.Trace, "backtest")

			f := backtest.NewFailure(err)
			assert.Equal(t, "error", f.Status)
			assert.Equal(t, "RUN_FAILED", f.Code)
			require.NotNil(t, f.Bar)
			assert.Equal(t, 2, *f.Bar)
			assert.NotEmpty(t, f.Traceback)
		})
	}
}

type recordingObserver struct {
	orders map[string]int
	trades []bool
	runs   int
	last   error
}

func (r *recordingObserver) ObserveOrder(status string) { r.orders[status]++ }
func (r *recordingObserver) ObserveTrade(win bool)      { r.trades = append(r.trades, win) }
func (r *recordingObserver) ObserveRun(_ string, _ int, _ time.Duration, err error) {
	r.runs++
	r.last = err
}

func TestRun_Observer(t *testing.T) {
	obs := &recordingObserver{orders: map[string]int{}}
	bt := backtest.New(backtest.DefaultConfig(), nil)
	bt.SetObserver(obs)

	p := maParams(3, ma_crossover.ModeReversion)
	src, err := ma_crossover.Factory(p)
	require.NoError(t, err)
	_, err = bt.Run(makeBars(100, 100, 100, 99, 94, 94), src, p)
	require.NoError(t, err)

	// buy, stop-loss close, then a fresh buy on the last bar
	assert.Equal(t, 3, obs.orders[string(broker.OrderStatusCompleted)])
	assert.Equal(t, []bool{false}, obs.trades)
	assert.Equal(t, 1, obs.runs)
	assert.NoError(t, obs.last)
}

func TestSweep(t *testing.T) {
	reg := strategy.NewRegistry()
	reg.Register(ma_crossover.Name, ma_crossover.Factory)

	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + 5*math.Sin(float64(i)/3)
	}
	bars := makeBars(closes...)

	sets := []strategy.Params{maParams(3, ""), maParams(5, ""), maParams(0, ""), maParams(3, "")}

	results := backtest.New(backtest.DefaultConfig(), nil).Sweep(bars, reg.Build, sets)
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.True(t, errors.Is(results[2].Err, core.ErrConfigInvalid))
	assert.NoError(t, results[3].Err)

	// identical parameter sets produce identical reports despite sharing a backtester
	assert.Equal(t, results[0].Result.Report, results[3].Result.Report)
	assert.NotEqual(t, results[0].Result.RunID, results[3].Result.RunID)
}
