// internal/storage/ledger/interface.go
package ledger

import (
	"context"
	"time"

	"github.com/newthinker/barsim/internal/backtest"
	"github.com/newthinker/barsim/internal/broker"
	"github.com/newthinker/barsim/internal/strategy"
)

// Run statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Store defines the interface for run persistence.
type Store interface {
	// SaveRun records a successful run with its trades.
	SaveRun(ctx context.Context, params strategy.Params, res *backtest.Result) error

	// SaveFailure records a failed run and returns its ID.
	SaveFailure(ctx context.Context, params strategy.Params, symbol string, f backtest.Failure) (string, error)

	// GetRun retrieves a run by its ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns retrieves runs matching the filter.
	ListRuns(ctx context.Context, filter ListFilter) ([]Run, error)

	// Count returns the number of runs matching the filter.
	Count(ctx context.Context, filter ListFilter) (int, error)

	// Trades returns the closed trades of a run in exit order.
	Trades(ctx context.Context, runID string) ([]broker.Trade, error)

	Close() error
}

// Run is one ledger row.
type Run struct {
	ID        string          `json:"id"`
	Strategy  string          `json:"strategy"`
	Symbol    string          `json:"symbol"`
	Interval  string          `json:"interval"`
	Params    strategy.Params `json:"params"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Bars      int             `json:"bars"`
	StartDate time.Time       `json:"startDate"`
	EndDate   time.Time       `json:"endDate"`
	Report    backtest.Report `json:"report"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ListFilter defines criteria for listing runs.
type ListFilter struct {
	Symbol   string
	Strategy string
	Status   string
	From     time.Time
	To       time.Time
	// ByReturn orders by total return, best first, instead of newest first.
	ByReturn bool
	Limit    int
	Offset   int
}
