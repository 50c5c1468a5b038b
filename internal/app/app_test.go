package app

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/newthinker/barsim/internal/backtest"
	"github.com/newthinker/barsim/internal/broker"
	"github.com/newthinker/barsim/internal/collector/parquetstore"
	"github.com/newthinker/barsim/internal/config"
	"github.com/newthinker/barsim/internal/core"
	"github.com/newthinker/barsim/internal/metrics"
	"github.com/newthinker/barsim/internal/notifier"
	"github.com/newthinker/barsim/internal/storage/archive"
	"github.com/newthinker/barsim/internal/storage/ledger"
	"github.com/newthinker/barsim/internal/strategy"
)

// mockCollector for testing
type mockCollector struct {
	bars  []core.OHLCV
	err   error
	start time.Time
	end   time.Time
}

func (m *mockCollector) Name() string { return "mock" }
func (m *mockCollector) FetchHistory(ctx context.Context, symbol string, start, end time.Time, interval string) ([]core.OHLCV, error) {
	m.start, m.end = start, end
	return m.bars, m.err
}

type recordingNotifier struct {
	single  []notifier.Event
	batches [][]notifier.Event
}

func (r *recordingNotifier) Name() string { return "recording" }
func (r *recordingNotifier) Notify(ctx context.Context, ev notifier.Event) error {
	r.single = append(r.single, ev)
	return nil
}
func (r *recordingNotifier) NotifyBatch(ctx context.Context, evs []notifier.Event) error {
	r.batches = append(r.batches, evs)
	return nil
}

// sineBars oscillates around 100 so mean reversion trades several times.
func sineBars(n int) []core.OHLCV {
	base := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)
	bars := make([]core.OHLCV, n)
	for i := range bars {
		c := 100 + 5*math.Sin(float64(i)/3)
		bars[i] = core.OHLCV{
			Symbol: "SPY", Interval: "1d",
			Open: c, High: c + 1, Low: c - 1, Close: c,
			Time: base.AddDate(0, 0, i),
		}
	}
	return bars
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Data.Source = "mock"
	cfg.Data.Interval = "1d"
	cfg.Strategy.Period = 5
	cfg.Strategy.RiskFraction = 0.5
	cfg.Strategy.StopLossFraction = 0.5
	cfg.Backtest.LiquidateAtEnd = true
	return cfg
}

func TestApp_New(t *testing.T) {
	a := New(config.Defaults(), nil)
	if a == nil {
		t.Fatal("expected non-nil app")
	}
	names := a.Strategies().Names()
	if len(names) != 2 || names[0] != "ma_crossover" || names[1] != "rsi_threshold" {
		t.Errorf("expected built-in strategies, got %v", names)
	}
}

func TestApp_FetchBars(t *testing.T) {
	cfg := testConfig(t)
	a := New(cfg, nil)
	now := time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	mc := &mockCollector{bars: sineBars(3)}
	a.RegisterCollector(mc)
	m := metrics.NewRegistry()
	a.SetMetrics(m)

	bars, err := a.FetchBars(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 3 {
		t.Errorf("expected 3 bars, got %d", len(bars))
	}
	if !mc.end.Equal(now) || !mc.start.Equal(now.AddDate(0, 0, -60)) {
		t.Errorf("unexpected window %s - %s", mc.start, mc.end)
	}

	if _, err := a.FetchBars(context.Background(), ""); !errors.Is(err, core.ErrConfigMissing) {
		t.Errorf("expected ErrConfigMissing for empty symbol, got %v", err)
	}

	cfg.Data.Source = "nope"
	if _, err := a.FetchBars(context.Background(), "SPY"); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid for unknown source, got %v", err)
	}
}

func TestApp_BacktestConfig(t *testing.T) {
	cfg := config.Defaults()
	a := New(cfg, nil)

	bc, err := a.BacktestConfig("5m")
	if err != nil {
		t.Fatal(err)
	}
	if bc.BarsPerYear != backtest.BarsPerYear("5m") {
		t.Errorf("expected derived bars per year, got %v", bc.BarsPerYear)
	}
	if bc.FillPolicy != broker.FillSameBar || bc.InitialCash != 100000 {
		t.Errorf("unexpected config %+v", bc)
	}

	cfg.Backtest.BarsPerYear = 365
	cfg.Backtest.FillPolicy = "next-bar-open"
	bc, _ = a.BacktestConfig("5m")
	if bc.BarsPerYear != 365 || bc.FillPolicy != broker.FillNextBarOpen {
		t.Errorf("explicit values should win, got %+v", bc)
	}

	cfg.Backtest.FillPolicy = "vwap"
	if _, err := a.BacktestConfig("1d"); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestApp_RunRecordsOutcome(t *testing.T) {
	cfg := testConfig(t)
	a := New(cfg, nil)

	fs, err := archive.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a.SetReports(archive.NewReports(fs))

	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	a.SetLedger(l)
	defer a.Close()

	ctx := context.Background()
	res, err := a.Run(ctx, sineBars(60), a.Params())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Report.TotalTrades == 0 {
		t.Error("expected trades on an oscillating series")
	}
	if !res.OpenPosition.IsFlat() {
		t.Error("expected position liquidated at end")
	}

	run, err := l.GetRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if run.Report.TotalTrades != res.Report.TotalTrades {
		t.Errorf("ledger report mismatch: %d vs %d", run.Report.TotalTrades, res.Report.TotalTrades)
	}
	paths, _ := a.Reports().ListResults(ctx, "ma_crossover")
	if len(paths) != 1 {
		t.Errorf("expected one archived report, got %v", paths)
	}

	// a failing run is recorded as an error row
	bad := a.Params()
	bad.Period = 0
	if _, err := a.Run(ctx, sineBars(10), bad); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid, got %v", err)
	}
	n, _ := l.Count(ctx, ledger.ListFilter{Status: ledger.StatusError})
	if n != 1 {
		t.Errorf("expected one failure row, got %d", n)
	}
}

func TestApp_Sweep(t *testing.T) {
	a := New(testConfig(t), nil)
	m := metrics.NewRegistry()
	a.SetMetrics(m)

	sets := []strategy.Params{a.Params(), a.Params(), a.Params()}
	sets[1].Period = 10
	sets[2].Name = "unknown"

	results, err := a.Sweep(context.Background(), sineBars(60), sets)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[1].Err != nil {
		t.Errorf("unexpected errors: %v, %v", results[0].Err, results[1].Err)
	}
	if !errors.Is(results[2].Err, core.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid for unknown strategy, got %v", results[2].Err)
	}
}

func TestApp_WriteMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Path = filepath.Join(t.TempDir(), "barsim.prom")
	a := New(cfg, nil)

	// disabled metrics write nothing
	if err := a.WriteMetrics(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cfg.Metrics.Path); !os.IsNotExist(err) {
		t.Error("expected no metrics file when metrics are disabled")
	}

	a.SetMetrics(metrics.NewRegistry())
	if _, err := a.Run(context.Background(), sineBars(30), a.Params()); err != nil {
		t.Fatal(err)
	}
	if err := a.WriteMetrics(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(cfg.Metrics.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `barsim_backtests_total{status="ok",strategy="ma_crossover"} 1`) {
		t.Errorf("expected run counter in metrics file:\n%s", data)
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Data.Source = "parquet"
	cfg.Data.ParquetDir = filepath.Join(dir, "bars")
	cfg.Data.Interval = "1d"
	cfg.Storage.Reports.Path = filepath.Join(dir, "reports")
	cfg.Storage.Ledger.Path = filepath.Join(dir, "ledger.db")
	cfg.Metrics.Enabled = true

	a, err := Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Close()

	if a.Ledger() == nil || a.Reports() == nil || a.metrics == nil {
		t.Error("expected ledger, reports and metrics to be wired")
	}

	// bars saved to the parquet directory are served back by the parquet source
	now := time.Now()
	bars := sineBars(5)
	for i := range bars {
		bars[i].Time = now.AddDate(0, 0, i-5)
	}
	loc, _ := time.LoadLocation(cfg.Data.Timezone)
	if err := parquetstore.New(cfg.Data.ParquetDir, loc).Save("SPY", "1d", bars); err != nil {
		t.Fatal(err)
	}
	got, err := a.FetchBars(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(got) != 5 {
		t.Errorf("expected 5 bars from parquet, got %d", len(got))
	}

	cfg.Strategy.Period = 0
	if _, err := Build(cfg, nil); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestApp_WireNotifiers(t *testing.T) {
	a := New(testConfig(t), nil)
	nc := config.NotifyConfig{
		Webhook:  config.WebhookConfig{URL: "http://localhost:9000/hook"},
		Telegram: config.TelegramConfig{BotToken: "token", ChatID: "42"},
	}

	if err := a.wireNotifiers(nc); err != nil {
		t.Fatalf("wireNotifiers: %v", err)
	}
	names := a.notifiers.Names()
	if len(names) != 2 || names[0] != "telegram" || names[1] != "webhook" {
		t.Errorf("expected telegram and webhook, got %v", names)
	}

	// a channel name that is already taken is a configuration error
	if err := a.wireNotifiers(nc); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid on duplicate, got %v", err)
	}

	b := New(testConfig(t), nil)
	nc.Webhook.URL = ""
	nc.Telegram.ChatID = ""
	if err := b.wireNotifiers(nc); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid for missing chat id, got %v", err)
	}
}

func TestApp_Download(t *testing.T) {
	cfg := testConfig(t)
	a := New(cfg, nil)

	if _, err := a.Download(context.Background(), "SPY"); !errors.Is(err, core.ErrConfigMissing) {
		t.Errorf("expected ErrConfigMissing before wiring, got %v", err)
	}

	a.remote = &mockCollector{bars: sineBars(4)}
	a.store = parquetstore.New(t.TempDir(), time.UTC)

	n, err := a.Download(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 bars, got %d", n)
	}
	stored, err := a.store.Load("SPY", "1d")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 4 {
		t.Errorf("expected 4 stored bars, got %d", len(stored))
	}

	a.remote = &mockCollector{err: core.ErrNoData}
	if _, err := a.Download(context.Background(), "SPY"); !errors.Is(err, core.ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestApp_Notifications(t *testing.T) {
	cfg := testConfig(t)
	a := New(cfg, nil)
	rec := &recordingNotifier{}
	if err := a.AddNotifier(rec); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	res, err := a.Run(ctx, sineBars(30), a.Params())
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.single) != 1 || rec.single[0].RunID != res.RunID || rec.single[0].Failed() {
		t.Fatalf("expected one success event, got %+v", rec.single)
	}

	sets := []strategy.Params{a.Params(), a.Params()}
	sets[1].Period = -1
	if _, err := a.Sweep(ctx, sineBars(30), sets); err != nil {
		t.Fatal(err)
	}
	if len(rec.batches) != 1 || len(rec.batches[0]) != 2 {
		t.Fatalf("expected one batch of two, got %+v", rec.batches)
	}
	if !rec.batches[0][1].Failed() || rec.batches[0][1].Code != "CONFIG_INVALID" {
		t.Errorf("expected failure event, got %+v", rec.batches[0][1])
	}

	// only failures: the sweep collapses to a single failure event
	cfg.Notify.OnlyFailures = true
	rec.single, rec.batches = nil, nil
	if _, err := a.Sweep(ctx, sineBars(30), sets); err != nil {
		t.Fatal(err)
	}
	if len(rec.batches) != 0 || len(rec.single) != 1 || !rec.single[0].Failed() {
		t.Errorf("expected only the failure, got single=%+v batches=%+v", rec.single, rec.batches)
	}
}
