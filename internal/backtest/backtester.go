package backtest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newthinker/barsim/internal/broker"
	"github.com/newthinker/barsim/internal/core"
	"github.com/newthinker/barsim/internal/indicator"
	"github.com/newthinker/barsim/internal/strategy"
)

// ReasonEndOfData tags the close order submitted on the final bar.
const ReasonEndOfData = "end_of_data"

// Observer receives run events, typically to update metrics.
type Observer interface {
	ObserveOrder(status string)
	ObserveTrade(win bool)
	ObserveRun(strategy string, bars int, duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveOrder(string)                             {}
func (nopObserver) ObserveTrade(bool)                               {}
func (nopObserver) ObserveRun(string, int, time.Duration, error) {}

// Backtester runs strategies against bar series. It keeps no per-run state,
// so one Backtester may serve many runs.
type Backtester struct {
	config   Config
	logger   *zap.Logger
	observer Observer
}

// New creates a Backtester with cfg.
func New(cfg Config, logger *zap.Logger) *Backtester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtester{
		config:   cfg,
		logger:   logger,
		observer: nopObserver{},
	}
}

// SetObserver installs an event observer.
func (b *Backtester) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	b.observer = o
}

// Config returns the backtester configuration.
func (b *Backtester) Config() Config { return b.config }

// runState is everything one run mutates. It is created per Run and never
// shared.
type runState struct {
	bars      []core.OHLCV
	sim       *broker.Simulator
	eval      *strategy.Evaluator
	cursors   []*indicator.Cursor
	equity    []EquityPoint
	failed    int
	index     int
	liquidate bool
	logger    *zap.Logger
	observer  Observer
}

// Run simulates source over bars. Configuration and data problems are
// returned before the loop starts; faults inside the loop come back as a
// *RunError and no Result is produced.
func (b *Backtester) Run(bars []core.OHLCV, source strategy.SignalSource, params strategy.Params) (res *Result, err error) {
	started := time.Now()
	name := params.Name
	if source != nil {
		name = source.Name()
	}
	defer func() {
		b.observer.ObserveRun(name, len(bars), time.Since(started), err)
	}()

	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	if err := core.ValidateBars(bars); err != nil {
		return nil, err
	}
	eval, err := strategy.NewEvaluator(source, params)
	if err != nil {
		return nil, err
	}
	if err := source.Bind(bars); err != nil {
		return nil, err
	}
	sim, err := broker.NewSimulator(b.config.brokerConfig(), b.logger)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := b.logger.With(
		zap.String("run_id", runID),
		zap.String("strategy", source.Name()),
		zap.String("symbol", bars[0].Symbol),
	)

	st := &runState{
		bars:      bars,
		sim:       sim,
		eval:      eval,
		equity:    make([]EquityPoint, 0, len(bars)),
		index:     -1,
		liquidate: b.config.LiquidateAtEnd,
		logger:    logger,
		observer:  b.observer,
	}
	for _, s := range source.Indicators() {
		st.cursors = append(st.cursors, indicator.NewCursor(s))
	}

	if err := st.loop(); err != nil {
		logger.Error("backtest failed", zap.Int("bar", st.index), zap.Error(err))
		return nil, err
	}

	trades := sim.Trades()
	for _, t := range trades {
		b.observer.ObserveTrade(t.IsWin())
	}

	report := Analyze(trades, st.equity, b.config)
	report.FailedOrders = st.failed

	logger.Info("backtest complete",
		zap.Int("bars", len(bars)),
		zap.Int("trades", report.TotalTrades),
		zap.Int("failed_orders", report.FailedOrders),
		zap.Float64("total_return", report.TotalReturn),
		zap.Float64("final_value", report.FinalValue),
	)

	last := bars[len(bars)-1]
	return &Result{
		RunID:        runID,
		Strategy:     source.Name(),
		Description:  source.Description(),
		Symbol:       bars[0].Symbol,
		Interval:     bars[0].Interval,
		StartDate:    bars[0].Time,
		EndDate:      last.Time,
		Bars:         len(bars),
		Orders:       sim.Orders(),
		Trades:       trades,
		Equity:       st.equity,
		OpenPosition: sim.Position(),
		Report:       report,
	}, nil
}

// loop drives every bar in order. A panic anywhere below is converted into a
// RunError for the bar being processed.
func (st *runState) loop() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(st.index, r)
		}
	}()

	for i := range st.bars {
		st.index = i
		if err := st.step(i); err != nil {
			var rerr *RunError
			if errors.As(err, &rerr) {
				return err
			}
			return newRunError(i, err)
		}
	}
	return nil
}

func (st *runState) step(i int) error {
	bar := st.bars[i]

	if err := st.advanceIndicators(); err != nil {
		return err
	}

	if st.sim.HasPending() {
		o, err := st.sim.ResolvePending(bar, i)
		if err != nil {
			return err
		}
		st.record(o)
	}

	pos := st.sim.Position()
	req, err := st.eval.Decide(strategy.State{
		Index:    i,
		Bar:      bar,
		Cash:     st.sim.Cash(),
		Position: pos,
		Pending:  st.sim.HasPending(),
	})
	if err != nil {
		return err
	}
	if req != nil {
		o, err := st.sim.Submit(*req, bar, i)
		if err != nil {
			return err
		}
		st.record(o)
	}

	if i == len(st.bars)-1 {
		if err := st.finish(bar, i); err != nil {
			return err
		}
	}

	value := st.sim.Value(bar.Close)
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("account value is not finite: %v", value)
	}
	st.equity = append(st.equity, EquityPoint{Time: bar.Time, Value: value})
	return nil
}

// advanceIndicators moves every indicator cursor to the current bar.
// Warmup is not an error.
func (st *runState) advanceIndicators() error {
	for _, c := range st.cursors {
		if !c.Next() {
			return fmt.Errorf("indicator shorter than bar series at bar %d", st.index)
		}
		if _, err := c.Value(); err != nil && !errors.Is(err, indicator.ErrNotReady) {
			return err
		}
	}
	return nil
}

// finish settles the final bar: an order still pending can never fill and is
// canceled, then an open position is optionally closed at the last close.
func (st *runState) finish(bar core.OHLCV, i int) error {
	if st.sim.HasPending() {
		o, err := st.sim.CancelPending(ReasonEndOfData, bar, i)
		if err != nil {
			return err
		}
		st.record(o)
	}
	if st.liquidate && st.sim.Position().IsLong() {
		o, err := st.sim.Liquidate(ReasonEndOfData, bar, i)
		if err != nil {
			return err
		}
		st.record(o)
	}
	return nil
}

// record logs and counts an order that reached a terminal status. Margin
// and Rejected orders are absorbed here; the run continues.
func (st *runState) record(o *broker.Order) {
	if o == nil || !o.IsTerminal() {
		return
	}
	st.observer.ObserveOrder(string(o.Status))

	switch o.Status {
	case broker.OrderStatusMargin, broker.OrderStatusRejected:
		st.failed++
		st.logger.Info("order skipped",
			zap.Int("bar", st.index),
			zap.String("side", string(o.Side)),
			zap.Float64("size", o.Size),
			zap.String("status", string(o.Status)),
			zap.String("reason", o.RejectionReason),
		)
	case broker.OrderStatusCompleted:
		st.logger.Debug("order filled",
			zap.Int("bar", st.index),
			zap.String("side", string(o.Side)),
			zap.Float64("size", o.Size),
			zap.Float64("price", o.ExecutedPrice),
			zap.String("reason", o.Reason),
		)
	}
}

// SweepResult is the outcome of one parameter set in a sweep.
type SweepResult struct {
	Params strategy.Params
	Result *Result
	Err    error
}

// Sweep runs every parameter set against the same bars, one after another.
// Each run gets a fresh source from build and its own state; a failing run
// does not stop the sweep.
func (b *Backtester) Sweep(bars []core.OHLCV, build strategy.Factory, sets []strategy.Params) []SweepResult {
	results := make([]SweepResult, 0, len(sets))
	for _, p := range sets {
		src, err := build(p)
		if err != nil {
			results = append(results, SweepResult{Params: p, Err: err})
			continue
		}
		res, err := b.Run(bars, src, p)
		results = append(results, SweepResult{Params: p, Result: res, Err: err})
	}
	return results
}
