package ma_crossover

import (
	"fmt"

	"github.com/newthinker/barsim/internal/core"
	"github.com/newthinker/barsim/internal/indicator"
	"github.com/newthinker/barsim/internal/strategy"
)

// Name is the registry key of this variant.
const Name = "ma_crossover"

// Mode selects which side of the moving average is the entry side.
type Mode string

const (
	// ModeReversion buys below the average and sells above it.
	ModeReversion Mode = "reversion"
	// ModeTrend buys above the average and sells below it.
	ModeTrend Mode = "trend"
)

// MACrossover compares the close with its simple moving average.
type MACrossover struct {
	period int
	mode   Mode
	closes []float64
	sma    *indicator.SMASeries
}

// New creates an unbound MA crossover source. An empty mode means reversion.
func New(period int, mode Mode) (*MACrossover, error) {
	if period <= 0 {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("ma period must be positive, got %d", period))
	}
	switch mode {
	case "":
		mode = ModeReversion
	case ModeReversion, ModeTrend:
	default:
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown ma_crossover mode %q", mode))
	}
	return &MACrossover{period: period, mode: mode}, nil
}

// Factory adapts New to strategy.Factory.
func Factory(p strategy.Params) (strategy.SignalSource, error) {
	return New(p.Period, Mode(p.Mode))
}

func (m *MACrossover) Name() string {
	return Name
}

func (m *MACrossover) Description() string {
	return fmt.Sprintf("MA Crossover SMA(%d) %s", m.period, m.mode)
}

func (m *MACrossover) Bind(bars []core.OHLCV) error {
	closes := core.Closes(bars)
	sma, err := indicator.NewSMASeries(closes, m.period)
	if err != nil {
		return err
	}
	m.closes = closes
	m.sma = sma
	return nil
}

func (m *MACrossover) Signal(i int) (strategy.Signal, error) {
	if m.sma == nil {
		return strategy.SignalNone, strategy.ErrNotBound
	}
	ma, err := m.sma.At(i)
	if err != nil {
		return strategy.SignalNone, err
	}

	price := m.closes[i]
	entry, exit := price < ma, price > ma
	if m.mode == ModeTrend {
		entry, exit = exit, entry
	}

	switch {
	case entry:
		return strategy.SignalEntry, nil
	case exit:
		return strategy.SignalExit, nil
	default:
		return strategy.SignalNone, nil
	}
}

func (m *MACrossover) Indicators() []indicator.Series {
	if m.sma == nil {
		return nil
	}
	return []indicator.Series{m.sma}
}
