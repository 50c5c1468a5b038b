package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/barsim/internal/backtest"
	"github.com/newthinker/barsim/internal/broker"
	"github.com/newthinker/barsim/internal/collector"
	"github.com/newthinker/barsim/internal/collector/parquetstore"
	"github.com/newthinker/barsim/internal/collector/yahoo"
	"github.com/newthinker/barsim/internal/config"
	"github.com/newthinker/barsim/internal/core"
	"github.com/newthinker/barsim/internal/metrics"
	"github.com/newthinker/barsim/internal/notifier"
	"github.com/newthinker/barsim/internal/notifier/telegram"
	"github.com/newthinker/barsim/internal/notifier/webhook"
	"github.com/newthinker/barsim/internal/storage/archive"
	"github.com/newthinker/barsim/internal/storage/ledger"
	"github.com/newthinker/barsim/internal/strategy"
	"github.com/newthinker/barsim/internal/strategy/ma_crossover"
	"github.com/newthinker/barsim/internal/strategy/rsi_threshold"
)

// App wires data sources, strategies, the backtester and the optional
// outputs (report archive, run ledger, metrics) together.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	collectors *collector.Registry
	strategies *strategy.Registry

	metrics   *metrics.Registry
	reports   *archive.Reports
	ledger    ledger.Store
	notifiers *notifier.Registry

	// remote and store back Download; both are nil until Build.
	remote collector.Collector
	store  *parquetstore.Store

	now func() time.Time
}

// New creates an App with the built-in strategies registered and no data
// sources or outputs. Use Build to wire everything from configuration.
func New(cfg *config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}

	strategies := strategy.NewRegistry(logger)
	RegisterStrategies(strategies)

	return &App{
		cfg:        cfg,
		logger:     logger,
		collectors: collector.NewRegistry(),
		strategies: strategies,
		notifiers:  notifier.NewRegistry(),
		now:        time.Now,
	}
}

// RegisterStrategies adds every built-in variant to reg.
func RegisterStrategies(reg *strategy.Registry) {
	reg.Register(ma_crossover.Name, ma_crossover.Factory)
	reg.Register(rsi_threshold.Name, rsi_threshold.Factory)
}

// Build creates an App and wires the collectors and outputs the
// configuration enables.
func Build(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := New(cfg, logger)

	loc, err := a.location()
	if err != nil {
		return nil, err
	}

	a.store = parquetstore.New(cfg.Data.ParquetDir, loc)
	a.RegisterCollector(a.store)

	a.remote = yahoo.New(yahoo.Config{
		ChunkDays: cfg.Data.ChunkDays,
		Location:  loc,
		Timeout:   cfg.Data.Timeout,
	}, a.logger)
	if cfg.Data.Cache {
		a.RegisterCollector(collector.NewCaching(a.remote, a.store, a.logger))
	} else {
		a.RegisterCollector(a.remote)
	}

	if cfg.Metrics.Enabled {
		a.SetMetrics(metrics.NewRegistry())
	}

	switch cfg.Storage.Reports.Type {
	case "localfs":
		fs, err := archive.NewLocalFS(cfg.Storage.Reports.Path)
		if err != nil {
			return nil, core.WrapError(core.ErrStorageFailed, err)
		}
		a.SetReports(archive.NewReports(fs))
	case "s3":
		s3cfg := cfg.Storage.Reports.S3
		s3, err := archive.NewS3(archive.S3Config{
			Bucket:    s3cfg.Bucket,
			Endpoint:  s3cfg.Endpoint,
			Region:    s3cfg.Region,
			AccessKey: s3cfg.AccessKey,
			SecretKey: s3cfg.SecretKey,
			Prefix:    s3cfg.Prefix,
		})
		if err != nil {
			return nil, core.WrapError(core.ErrConfigInvalid, err)
		}
		a.SetReports(archive.NewReports(s3))
	}

	if err := a.wireNotifiers(cfg.Notify); err != nil {
		return nil, err
	}

	if cfg.Storage.Ledger.Path != "" {
		l, err := ledger.Open(cfg.Storage.Ledger.Path, a.logger)
		if err != nil {
			return nil, err
		}
		a.SetLedger(l)
	}

	return a, nil
}

// wireNotifiers registers the channels nc enables. A channel that cannot be
// built or registered is a configuration error.
func (a *App) wireNotifiers(nc config.NotifyConfig) error {
	if n := nc.Webhook; n.URL != "" {
		w, err := webhook.New(n.URL, n.Headers)
		if err != nil {
			return core.WrapError(core.ErrConfigInvalid, err)
		}
		if err := a.AddNotifier(w); err != nil {
			return core.WrapError(core.ErrConfigInvalid, err)
		}
	}
	if n := nc.Telegram; n.BotToken != "" {
		tg, err := telegram.New(n.BotToken, n.ChatID)
		if err != nil {
			return core.WrapError(core.ErrConfigInvalid, err)
		}
		if err := a.AddNotifier(tg); err != nil {
			return core.WrapError(core.ErrConfigInvalid, err)
		}
	}
	return nil
}

// RegisterCollector adds a data source to the app
func (a *App) RegisterCollector(c collector.Collector) {
	a.collectors.Register(c)
}

// Strategies returns the strategy registry.
func (a *App) Strategies() *strategy.Registry {
	return a.strategies
}

// Ledger returns the run ledger, or nil when it is disabled.
func (a *App) Ledger() ledger.Store {
	return a.ledger
}

// Reports returns the report archive, or nil when it is disabled.
func (a *App) Reports() *archive.Reports {
	return a.reports
}

// AddNotifier registers a channel for run notifications.
func (a *App) AddNotifier(n notifier.Notifier) error {
	return a.notifiers.Register(n)
}

func (a *App) SetMetrics(m *metrics.Registry) { a.metrics = m }
func (a *App) SetReports(r *archive.Reports)  { a.reports = r }
func (a *App) SetLedger(l ledger.Store)       { a.ledger = l }

// Close releases the ledger.
func (a *App) Close() error {
	if a.ledger != nil {
		return a.ledger.Close()
	}
	return nil
}

// FetchBars loads the configured lookback window for symbol from the
// configured data source.
func (a *App) FetchBars(ctx context.Context, symbol string) ([]core.OHLCV, error) {
	if symbol == "" {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("symbol is required"))
	}
	c, err := a.collectors.Get(a.cfg.Data.Source)
	if err != nil {
		return nil, err
	}

	start, end := a.window()
	a.logger.Info("fetching bars",
		zap.String("source", c.Name()),
		zap.String("symbol", symbol),
		zap.String("interval", a.cfg.Data.Interval),
		zap.Time("start", start),
		zap.Time("end", end),
	)

	began := time.Now()
	bars, err := c.FetchHistory(ctx, symbol, start, end, a.cfg.Data.Interval)
	if a.metrics != nil {
		a.metrics.RecordFetch(c.Name(), len(bars), time.Since(began), err)
	}
	if err != nil {
		return nil, err
	}
	return bars, nil
}

// Download fetches the configured lookback window for symbol from the
// remote source and merges it into the parquet store. It returns the number
// of bars fetched.
func (a *App) Download(ctx context.Context, symbol string) (int, error) {
	if a.remote == nil || a.store == nil {
		return 0, core.WrapError(core.ErrConfigMissing, fmt.Errorf("download requires a built app"))
	}
	if symbol == "" {
		return 0, core.WrapError(core.ErrConfigMissing, fmt.Errorf("symbol is required"))
	}

	start, end := a.window()
	began := time.Now()
	bars, err := a.remote.FetchHistory(ctx, symbol, start, end, a.cfg.Data.Interval)
	if a.metrics != nil {
		a.metrics.RecordFetch(a.remote.Name(), len(bars), time.Since(began), err)
	}
	if err != nil {
		return 0, err
	}
	if err := a.store.Save(symbol, a.cfg.Data.Interval, bars); err != nil {
		return 0, err
	}
	a.logger.Info("bars stored",
		zap.String("symbol", symbol),
		zap.String("interval", a.cfg.Data.Interval),
		zap.Int("bars", len(bars)),
	)
	return len(bars), nil
}

func (a *App) window() (time.Time, time.Time) {
	end := a.now()
	return end.AddDate(0, 0, -a.cfg.Data.Days), end
}

// Params converts the strategy section of the configuration.
func (a *App) Params() strategy.Params {
	s := a.cfg.Strategy
	return strategy.Params{
		Name:             s.Name,
		Period:           s.Period,
		RiskFraction:     s.RiskFraction,
		StopLossFraction: s.StopLossFraction,
		Oversold:         s.Oversold,
		Overbought:       s.Overbought,
		Mode:             s.Mode,
		Unit:             s.Unit,
	}
}

// BacktestConfig converts the backtest section of the configuration. A zero
// bars_per_year is derived from interval.
func (a *App) BacktestConfig(interval string) (backtest.Config, error) {
	b := a.cfg.Backtest
	policy, err := broker.ParseFillPolicy(b.FillPolicy)
	if err != nil {
		return backtest.Config{}, core.WrapError(core.ErrConfigInvalid, err)
	}
	bpy := b.BarsPerYear
	if bpy == 0 {
		bpy = backtest.BarsPerYear(interval)
	}
	return backtest.Config{
		InitialCash:    b.InitialCash,
		CommissionRate: b.CommissionRate,
		FillPolicy:     policy,
		RiskFreeRate:   b.RiskFreeRate,
		BarsPerYear:    bpy,
		LiquidateAtEnd: b.LiquidateAtEnd,
	}, nil
}

func (a *App) backtester(bars []core.OHLCV) (*backtest.Backtester, error) {
	interval := a.cfg.Data.Interval
	if len(bars) > 0 && bars[0].Interval != "" {
		interval = bars[0].Interval
	}
	cfg, err := a.BacktestConfig(interval)
	if err != nil {
		return nil, err
	}
	bt := backtest.New(cfg, a.logger)
	if a.metrics != nil {
		bt.SetObserver(a.metrics)
	}
	return bt, nil
}

// Run backtests params over bars and records the outcome in the archive and
// ledger. Recording failures are logged and never replace the run's own
// result or error.
func (a *App) Run(ctx context.Context, bars []core.OHLCV, params strategy.Params) (*backtest.Result, error) {
	bt, err := a.backtester(bars)
	if err != nil {
		return nil, err
	}

	var res *backtest.Result
	src, err := a.strategies.Build(params)
	if err == nil {
		res, err = bt.Run(bars, src, params)
	}

	symbol := ""
	if len(bars) > 0 {
		symbol = bars[0].Symbol
	}
	if err != nil {
		a.notify(ctx, a.recordFailure(ctx, params, symbol, err))
		return nil, err
	}
	a.notify(ctx, a.recordResult(ctx, params, res))
	return res, nil
}

// Sweep runs every parameter set over the same bars. Results are recorded
// like single runs.
func (a *App) Sweep(ctx context.Context, bars []core.OHLCV, sets []strategy.Params) ([]backtest.SweepResult, error) {
	bt, err := a.backtester(bars)
	if err != nil {
		return nil, err
	}

	symbol := ""
	if len(bars) > 0 {
		symbol = bars[0].Symbol
	}

	results := bt.Sweep(bars, a.strategies.Build, sets)
	events := make([]notifier.Event, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			events = append(events, a.recordFailure(ctx, r.Params, symbol, r.Err))
			continue
		}
		events = append(events, a.recordResult(ctx, r.Params, r.Result))
	}
	a.notifyBatch(ctx, events)
	return results, nil
}

// WriteMetrics writes the metrics textfile when metrics are enabled.
func (a *App) WriteMetrics() error {
	if a.metrics == nil || a.cfg.Metrics.Path == "" {
		return nil
	}
	return a.metrics.WriteTextfile(a.cfg.Metrics.Path)
}

func (a *App) recordResult(ctx context.Context, params strategy.Params, res *backtest.Result) notifier.Event {
	if a.reports != nil {
		if p, err := a.reports.SaveResult(ctx, res); err != nil {
			a.logger.Warn("failed to archive report", zap.String("run_id", res.RunID), zap.Error(err))
		} else {
			a.logger.Debug("report archived", zap.String("path", p))
		}
	}
	if a.ledger != nil {
		if err := a.ledger.SaveRun(ctx, params, res); err != nil {
			a.logger.Warn("failed to record run", zap.String("run_id", res.RunID), zap.Error(err))
		}
	}
	return notifier.ResultEvent(res, a.now())
}

func (a *App) recordFailure(ctx context.Context, params strategy.Params, symbol string, runErr error) notifier.Event {
	f := backtest.NewFailure(runErr)
	if a.reports != nil {
		if _, err := a.reports.SaveFailure(ctx, params.Name, symbol, f); err != nil {
			a.logger.Warn("failed to archive failure", zap.Error(err))
		}
	}
	ev := notifier.FailureEvent(params.Name, symbol, f, a.now())
	if a.ledger != nil {
		id, err := a.ledger.SaveFailure(ctx, params, symbol, f)
		if err != nil {
			a.logger.Warn("failed to record failure", zap.Error(err))
		}
		ev.RunID = id
	}
	return ev
}

func (a *App) notify(ctx context.Context, ev notifier.Event) {
	a.notifyBatch(ctx, []notifier.Event{ev})
}

// notifyBatch sends one event on its own and several as a single batch.
// Delivery errors are logged only.
func (a *App) notifyBatch(ctx context.Context, evs []notifier.Event) {
	if a.notifiers.Len() == 0 {
		return
	}
	if a.cfg.Notify.OnlyFailures {
		var failed []notifier.Event
		for _, ev := range evs {
			if ev.Failed() {
				failed = append(failed, ev)
			}
		}
		evs = failed
	}

	var errs map[string]error
	switch len(evs) {
	case 0:
		return
	case 1:
		errs = a.notifiers.NotifyAll(ctx, evs[0])
	default:
		errs = a.notifiers.NotifyAllBatch(ctx, evs)
	}
	for name, err := range errs {
		a.logger.Warn("notification failed", zap.String("notifier", name), zap.Error(err))
	}
}

func (a *App) location() (*time.Location, error) {
	if a.cfg.Data.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(a.cfg.Data.Timezone)
	if err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}
	return loc, nil
}
