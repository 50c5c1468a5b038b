package strategy

import (
	"errors"
	"math"

	"github.com/newthinker/barsim/internal/broker"
	"github.com/newthinker/barsim/internal/core"
	"github.com/newthinker/barsim/internal/indicator"
)

// Order reasons attached to evaluator proposals.
const (
	ReasonSignal   = "signal"
	ReasonStopLoss = "stop_loss"
)

// State is the per-bar view the Evaluator decides on.
type State struct {
	Index    int
	Bar      core.OHLCV
	Cash     float64
	Position broker.Position
	Pending  bool
}

// Evaluator turns a SignalSource into order proposals. It holds no mutable
// state, so a single Evaluator gives the same answer for the same State.
type Evaluator struct {
	source SignalSource
	params Params
}

// NewEvaluator validates params and wraps source.
func NewEvaluator(source SignalSource, params Params) (*Evaluator, error) {
	if source == nil {
		return nil, invalid("signal source is nil")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.Unit == 0 {
		params.Unit = 1
	}
	return &Evaluator{source: source, params: params}, nil
}

// Source returns the wrapped signal source.
func (e *Evaluator) Source() SignalSource { return e.source }

// Params returns the effective parameters.
func (e *Evaluator) Params() Params { return e.params }

// Decide proposes at most one order for the bar described by st. A nil
// request with a nil error means "do nothing".
func (e *Evaluator) Decide(st State) (*broker.OrderRequest, error) {
	if st.Pending {
		return nil, nil
	}

	if st.Position.IsLong() {
		stop := st.Position.EntryPrice * (1 - e.params.StopLossFraction)
		if st.Bar.Close < stop {
			return &broker.OrderRequest{Side: broker.OrderSideClose, Reason: ReasonStopLoss}, nil
		}
	}

	sig, err := e.source.Signal(st.Index)
	if errors.Is(err, indicator.ErrNotReady) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if st.Position.IsLong() {
		if sig != SignalExit {
			return nil, nil
		}
		return &broker.OrderRequest{
			Side:   broker.OrderSideSell,
			Size:   st.Position.Size,
			Reason: ReasonSignal,
		}, nil
	}

	if sig != SignalEntry {
		return nil, nil
	}
	size := e.size(st.Cash, st.Bar.Close)
	if size <= 0 {
		return nil, nil
	}
	return &broker.OrderRequest{Side: broker.OrderSideBuy, Size: size, Reason: ReasonSignal}, nil
}

// size is risk_fraction * cash / close rounded down to the tradable unit.
func (e *Evaluator) size(cash, price float64) float64 {
	if price <= 0 || cash <= 0 {
		return 0
	}
	raw := e.params.RiskFraction * cash / price
	return math.Floor(raw/e.params.Unit) * e.params.Unit
}
