package collector

import (
	"context"
	"time"

	"github.com/newthinker/barsim/internal/core"
)

// Collector fetches historical bars for one symbol.
type Collector interface {
	Name() string

	// FetchHistory returns bars in [start, end), sorted by time with
	// duplicate timestamps removed.
	FetchHistory(ctx context.Context, symbol string, start, end time.Time, interval string) ([]core.OHLCV, error)
}

// Sink persists bars so later runs can read them offline.
type Sink interface {
	Save(symbol, interval string, bars []core.OHLCV) error
}
