package strategy

import (
	"errors"

	"github.com/newthinker/barsim/internal/core"
	"github.com/newthinker/barsim/internal/indicator"
)

// ErrNotBound is returned when a source is queried before Bind.
var ErrNotBound = errors.New("strategy: signal source not bound to bars")

// Signal is the raw condition a source reports for one bar.
type Signal int

const (
	SignalNone Signal = iota
	SignalEntry
	SignalExit
)

func (s Signal) String() string {
	switch s {
	case SignalEntry:
		return "entry"
	case SignalExit:
		return "exit"
	default:
		return "none"
	}
}

// SignalSource is one strategy variant. It owns its indicators and reports
// entry and exit conditions per bar; sizing, stop-loss and pending-order
// handling are left to the Evaluator so every variant behaves the same way.
type SignalSource interface {
	Name() string
	Description() string
	// Bind computes the source's indicators over bars. It must be called
	// once per run before Signal.
	Bind(bars []core.OHLCV) error
	// Signal reports the condition at bar i. indicator.ErrNotReady means
	// the indicators have not warmed up yet.
	Signal(i int) (Signal, error)
	Indicators() []indicator.Series
}
