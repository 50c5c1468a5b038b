package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	// Run metrics
	backtestsTotal   *prometheus.CounterVec
	backtestDuration *prometheus.HistogramVec
	barsProcessed    prometheus.Counter

	// Broker metrics
	ordersTotal *prometheus.CounterVec
	tradesTotal *prometheus.CounterVec

	// Collector metrics
	fetchesTotal  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	barsFetched   *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		backtestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barsim_backtests_total",
				Help: "Total number of backtest runs",
			},
			[]string{"strategy", "status"},
		),
		backtestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "barsim_backtest_duration_seconds",
				Help:    "Backtest run duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"strategy"},
		),
		barsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "barsim_bars_processed_total",
				Help: "Total number of bars driven through the backtest loop",
			},
		),
		ordersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barsim_orders_total",
				Help: "Orders by terminal status",
			},
			[]string{"status"},
		),
		tradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barsim_trades_total",
				Help: "Closed trades by outcome",
			},
			[]string{"outcome"},
		),
		fetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barsim_collector_fetches_total",
				Help: "Historical data requests by source and status",
			},
			[]string{"source", "status"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "barsim_collector_fetch_duration_seconds",
				Help:    "Historical data request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		barsFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barsim_collector_bars_total",
				Help: "Bars returned by collectors",
			},
			[]string{"source"},
		),
	}

	reg.MustRegister(r.backtestsTotal)
	reg.MustRegister(r.backtestDuration)
	reg.MustRegister(r.barsProcessed)
	reg.MustRegister(r.ordersTotal)
	reg.MustRegister(r.tradesTotal)
	reg.MustRegister(r.fetchesTotal)
	reg.MustRegister(r.fetchDuration)
	reg.MustRegister(r.barsFetched)

	return r
}

// ObserveRun records a finished backtest run.
func (r *Registry) ObserveRun(strategy string, bars int, duration time.Duration, err error) {
	r.backtestsTotal.WithLabelValues(strategy, statusOf(err)).Inc()
	r.backtestDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	if err == nil {
		r.barsProcessed.Add(float64(bars))
	}
}

// ObserveOrder records an order reaching a terminal status.
func (r *Registry) ObserveOrder(status string) {
	r.ordersTotal.WithLabelValues(status).Inc()
}

// ObserveTrade records a closed trade.
func (r *Registry) ObserveTrade(win bool) {
	outcome := "loss"
	if win {
		outcome = "win"
	}
	r.tradesTotal.WithLabelValues(outcome).Inc()
}

// RecordFetch records a collector request.
func (r *Registry) RecordFetch(source string, bars int, duration time.Duration, err error) {
	r.fetchesTotal.WithLabelValues(source, statusOf(err)).Inc()
	r.fetchDuration.WithLabelValues(source).Observe(duration.Seconds())
	r.barsFetched.WithLabelValues(source).Add(float64(bars))
}

// WriteTextfile writes the current metrics in the Prometheus text format,
// suitable for the node exporter textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
