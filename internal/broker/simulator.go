package broker

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newthinker/barsim/internal/core"
)

// Simulator is the in-memory broker for one backtest run. It is not safe for
// concurrent use; each run owns its own Simulator.
type Simulator struct {
	config   Config
	cash     float64
	position Position
	pending  *Order
	orders   []Order
	trades   []Trade
	logger   *zap.Logger
}

// NewSimulator creates a Simulator funded with cfg.InitialCash.
func NewSimulator(cfg Config, logger *zap.Logger) (*Simulator, error) {
	if cfg.FillPolicy == "" {
		cfg.FillPolicy = FillSameBar
	}
	if err := cfg.Validate(); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		config: cfg,
		cash:   cfg.InitialCash,
		logger: logger,
	}, nil
}

// Cash returns the available cash balance.
func (s *Simulator) Cash() float64 { return s.cash }

// Position returns a copy of the current position.
func (s *Simulator) Position() Position { return s.position }

// HasPending reports whether an order is in flight.
func (s *Simulator) HasPending() bool { return s.pending != nil }

// Pending returns a copy of the in-flight order, or nil.
func (s *Simulator) Pending() *Order {
	if s.pending == nil {
		return nil
	}
	o := *s.pending
	return &o
}

// Value returns cash plus the position marked to price.
func (s *Simulator) Value(price float64) float64 {
	return s.cash + s.position.MarketValue(price)
}

// Trades returns a copy of the closed-trade ledger.
func (s *Simulator) Trades() []Trade {
	out := make([]Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

// Orders returns a copy of all orders that reached a terminal status.
func (s *Simulator) Orders() []Order {
	out := make([]Order, len(s.orders))
	copy(out, s.orders)
	return out
}

// Submit creates an order from req on bar index and moves it through
// Created, Submitted and Accepted. With FillSameBar it is executed at the bar
// close immediately; with FillNextBarOpen it stays pending until
// ResolvePending. Margin and Rejected outcomes are returned as a terminal
// order, not as an error. Errors signal misuse: a second order while one is
// pending, or an illegal transition.
func (s *Simulator) Submit(req OrderRequest, bar core.OHLCV, index int) (*Order, error) {
	return s.submit(req, bar, index, s.config.FillPolicy == FillSameBar)
}

// Liquidate submits a CLOSE order that executes at the bar close whatever
// the fill policy. It is used on the final bar so no position outlives the
// data.
func (s *Simulator) Liquidate(reason string, bar core.OHLCV, index int) (*Order, error) {
	return s.submit(OrderRequest{Side: OrderSideClose, Reason: reason}, bar, index, true)
}

func (s *Simulator) submit(req OrderRequest, bar core.OHLCV, index int, immediate bool) (*Order, error) {
	if s.pending != nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderPending, s.pending.ID)
	}

	o := &Order{
		ID:         uuid.NewString(),
		Side:       req.Side,
		Size:       req.Size,
		Status:     OrderStatusCreated,
		Reason:     req.Reason,
		History:    []OrderStatus{OrderStatusCreated},
		CreatedBar: index,
		CreatedAt:  bar.Time,
	}
	if o.Side == OrderSideClose {
		o.Size = s.position.Size
	}

	if !req.Side.IsValid() {
		o.RejectionReason = fmt.Sprintf("%v: %q", ErrInvalidSide, req.Side)
		if err := o.transition(OrderStatusRejected); err != nil {
			return nil, err
		}
		s.finish(o, index, bar)
		return s.snapshot(o), nil
	}

	if err := o.transition(OrderStatusSubmitted); err != nil {
		return nil, err
	}
	if err := o.transition(OrderStatusAccepted); err != nil {
		return nil, err
	}
	s.pending = o

	if !immediate {
		s.logger.Debug("order accepted, awaiting next bar",
			zap.String("order_id", o.ID),
			zap.String("side", string(o.Side)),
			zap.Float64("size", o.Size),
			zap.Int("bar", index),
		)
		return s.snapshot(o), nil
	}

	if err := s.execute(o, bar.Close, bar, index); err != nil {
		return nil, err
	}
	return s.snapshot(o), nil
}

// ResolvePending executes the in-flight order at the open of bar index.
// It returns nil when nothing is pending.
func (s *Simulator) ResolvePending(bar core.OHLCV, index int) (*Order, error) {
	if s.pending == nil {
		return nil, nil
	}
	o := s.pending
	if err := s.execute(o, bar.Open, bar, index); err != nil {
		return nil, err
	}
	return s.snapshot(o), nil
}

// CancelPending cancels the in-flight order. The simulator never cancels on
// its own; callers use this when the bar series ends with an order pending.
func (s *Simulator) CancelPending(reason string, bar core.OHLCV, index int) (*Order, error) {
	if s.pending == nil {
		return nil, ErrNoPendingOrder
	}
	o := s.pending
	if err := o.transition(OrderStatusCanceled); err != nil {
		return nil, err
	}
	o.RejectionReason = reason
	s.finish(o, index, bar)
	return s.snapshot(o), nil
}

// execute runs the pre-fill checks and either fills o at price or moves it
// to Margin/Rejected. The pending slot is cleared either way.
func (s *Simulator) execute(o *Order, price float64, bar core.OHLCV, index int) error {
	if o.Side == OrderSideClose {
		o.Size = s.position.Size
	}

	check := checkOrder(o, price, s.cash, s.config.CommissionRate, s.position)
	if !check.Allowed {
		if err := o.transition(check.Status); err != nil {
			return err
		}
		o.RejectionReason = check.Reason
		s.finish(o, index, bar)
		s.logger.Info("order not filled",
			zap.String("order_id", o.ID),
			zap.String("side", string(o.Side)),
			zap.String("status", string(o.Status)),
			zap.String("reason", check.Reason),
			zap.Int("bar", index),
		)
		return nil
	}

	if err := o.transition(OrderStatusCompleted); err != nil {
		return err
	}
	fee := commission(s.config.CommissionRate, price, o.Size)
	o.ExecutedPrice = price
	o.Commission = fee

	switch o.Side {
	case OrderSideBuy:
		s.cash -= price*o.Size + fee
		s.position.addFill(price, o.Size, fee, index, bar.Time)
	case OrderSideSell, OrderSideClose:
		s.cash += price*o.Size - fee
		if trade, closed := s.position.reduceFill(price, o.Size, fee, index, bar.Time, o.Reason); closed {
			s.trades = append(s.trades, trade)
			s.logger.Debug("trade closed",
				zap.Float64("entry", trade.EntryPrice),
				zap.Float64("exit", trade.ExitPrice),
				zap.Float64("pnl", trade.PnL),
				zap.Int("bars", trade.BarLength),
			)
		}
	}

	s.finish(o, index, bar)
	s.logger.Debug("order completed",
		zap.String("order_id", o.ID),
		zap.String("side", string(o.Side)),
		zap.Float64("size", o.Size),
		zap.Float64("price", price),
		zap.Float64("commission", fee),
		zap.Int("bar", index),
	)
	return nil
}

// finish records a terminal order and frees the pending slot.
func (s *Simulator) finish(o *Order, index int, bar core.OHLCV) {
	o.ExecutedBar = index
	o.ExecutedAt = bar.Time
	s.orders = append(s.orders, *s.snapshot(o))
	if s.pending == o {
		s.pending = nil
	}
}

func (s *Simulator) snapshot(o *Order) *Order {
	c := *o
	c.History = append([]OrderStatus(nil), o.History...)
	return &c
}
