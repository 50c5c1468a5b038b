package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/barsim/internal/core"
)

// Caching wraps a Collector and writes every successful fetch to a Sink.
// A failed write is logged and does not fail the fetch.
type Caching struct {
	next   Collector
	sink   Sink
	logger *zap.Logger
}

// NewCaching creates a caching collector.
func NewCaching(next Collector, sink Sink, logger *zap.Logger) *Caching {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Caching{next: next, sink: sink, logger: logger}
}

func (c *Caching) Name() string {
	return c.next.Name()
}

func (c *Caching) FetchHistory(ctx context.Context, symbol string, start, end time.Time, interval string) ([]core.OHLCV, error) {
	bars, err := c.next.FetchHistory(ctx, symbol, start, end, interval)
	if err != nil {
		return nil, err
	}
	if err := c.sink.Save(symbol, interval, bars); err != nil {
		c.logger.Warn("failed to cache bars",
			zap.String("symbol", symbol),
			zap.String("interval", interval),
			zap.Error(err),
		)
	}
	return bars, nil
}
