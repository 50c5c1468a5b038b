package notifier

import (
	"context"
	"time"

	"github.com/newthinker/barsim/internal/backtest"
)

// Event describes one finished backtest, successful or not.
type Event struct {
	RunID    string           `json:"run_id,omitempty"`
	Strategy string           `json:"strategy"`
	Symbol   string           `json:"symbol"`
	Interval string           `json:"interval,omitempty"`
	Status   string           `json:"status"`
	Report   *backtest.Report `json:"report,omitempty"`
	Code     string           `json:"code,omitempty"`
	Error    string           `json:"error,omitempty"`
	At       time.Time        `json:"at"`
}

// Failed reports whether the run ended in an error.
func (e Event) Failed() bool { return e.Status == "error" }

// ResultEvent summarizes a completed run.
func ResultEvent(res *backtest.Result, at time.Time) Event {
	report := res.Report
	return Event{
		RunID:    res.RunID,
		Strategy: res.Strategy,
		Symbol:   res.Symbol,
		Interval: res.Interval,
		Status:   "ok",
		Report:   &report,
		At:       at,
	}
}

// FailureEvent summarizes a failed run.
func FailureEvent(strategyName, symbol string, f backtest.Failure, at time.Time) Event {
	return Event{
		Strategy: strategyName,
		Symbol:   symbol,
		Status:   f.Status,
		Code:     f.Code,
		Error:    f.Error,
		At:       at,
	}
}

// Notifier delivers run events to an outside channel
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Notify sends a single event
	Notify(ctx context.Context, ev Event) error

	// NotifyBatch sends the events of a sweep in one message
	NotifyBatch(ctx context.Context, evs []Event) error
}
