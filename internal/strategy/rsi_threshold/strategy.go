package rsi_threshold

import (
	"fmt"

	"github.com/newthinker/barsim/internal/core"
	"github.com/newthinker/barsim/internal/indicator"
	"github.com/newthinker/barsim/internal/strategy"
)

// Name is the registry key of this variant.
const Name = "rsi_threshold"

// RSIThreshold enters when RSI falls under oversold and exits when it rises
// above overbought.
type RSIThreshold struct {
	period     int
	oversold   float64
	overbought float64
	rsi        *indicator.RSISeries
}

// New creates an unbound RSI threshold source.
func New(period int, oversold, overbought float64) (*RSIThreshold, error) {
	if period <= 0 {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("rsi period must be positive, got %d", period))
	}
	if err := strategy.ValidateThresholds(oversold, overbought); err != nil {
		return nil, err
	}
	return &RSIThreshold{
		period:     period,
		oversold:   oversold,
		overbought: overbought,
	}, nil
}

// Factory adapts New to strategy.Factory.
func Factory(p strategy.Params) (strategy.SignalSource, error) {
	return New(p.Period, p.Oversold, p.Overbought)
}

func (r *RSIThreshold) Name() string {
	return Name
}

func (r *RSIThreshold) Description() string {
	return fmt.Sprintf("RSI(%d) oversold %.0f / overbought %.0f", r.period, r.oversold, r.overbought)
}

func (r *RSIThreshold) Bind(bars []core.OHLCV) error {
	rsi, err := indicator.NewRSISeries(core.Closes(bars), r.period)
	if err != nil {
		return err
	}
	r.rsi = rsi
	return nil
}

func (r *RSIThreshold) Signal(i int) (strategy.Signal, error) {
	if r.rsi == nil {
		return strategy.SignalNone, strategy.ErrNotBound
	}
	v, err := r.rsi.At(i)
	if err != nil {
		return strategy.SignalNone, err
	}
	switch {
	case v < r.oversold:
		return strategy.SignalEntry, nil
	case v > r.overbought:
		return strategy.SignalExit, nil
	default:
		return strategy.SignalNone, nil
	}
}

func (r *RSIThreshold) Indicators() []indicator.Series {
	if r.rsi == nil {
		return nil
	}
	return []indicator.Series{r.rsi}
}
