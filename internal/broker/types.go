// Package broker simulates a single-asset cash account: it tracks cash, one
// long position and at most one in-flight market order, and fills orders
// against bar prices.
package broker

import (
	"errors"
	"time"
)

// Broker-specific errors.
var (
	// ErrOrderPending indicates a second order was submitted while one is in flight.
	ErrOrderPending = errors.New("broker: an order is already pending")
	// ErrNoPendingOrder indicates there is no in-flight order to act on.
	ErrNoPendingOrder = errors.New("broker: no pending order")
	// ErrInvalidTransition indicates an illegal order status change.
	ErrInvalidTransition = errors.New("broker: invalid order status transition")
	// ErrInvalidSide indicates an unknown order side.
	ErrInvalidSide = errors.New("broker: invalid order side")
	// ErrInvalidFillPolicy indicates an unknown fill policy.
	ErrInvalidFillPolicy = errors.New("broker: invalid fill policy")
)

// OrderSide represents the direction of an order.
type OrderSide string

const (
	// OrderSideBuy opens or adds to the long position.
	OrderSideBuy OrderSide = "BUY"
	// OrderSideSell reduces the position by the requested size.
	OrderSideSell OrderSide = "SELL"
	// OrderSideClose flattens the whole position.
	OrderSideClose OrderSide = "CLOSE"
)

// IsValid reports whether s is a known side.
func (s OrderSide) IsValid() bool {
	switch s {
	case OrderSideBuy, OrderSideSell, OrderSideClose:
		return true
	}
	return false
}

// OrderStatus represents the lifecycle status of an order.
type OrderStatus string

const (
	// OrderStatusCreated is the initial state of a proposed order.
	OrderStatusCreated OrderStatus = "CREATED"
	// OrderStatusSubmitted indicates the order reached the broker.
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	// OrderStatusAccepted indicates the order is waiting for its fill.
	OrderStatusAccepted OrderStatus = "ACCEPTED"
	// OrderStatusCompleted indicates the order was filled.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCanceled indicates the order was cancelled externally.
	OrderStatusCanceled OrderStatus = "CANCELED"
	// OrderStatusMargin indicates the fill needed more cash than available.
	OrderStatusMargin OrderStatus = "MARGIN"
	// OrderStatusRejected indicates an invalid size or nothing to sell.
	OrderStatusRejected OrderStatus = "REJECTED"
)

// OrderRequest is a strategy's proposal for a market order.
type OrderRequest struct {
	Side OrderSide
	// Size is ignored for CLOSE orders, which always flatten the position.
	Size   float64
	Reason string
}

// Order represents an order in the simulated broker.
type Order struct {
	ID     string      `json:"id"`
	Side   OrderSide   `json:"side"`
	Size   float64     `json:"size"`
	Status OrderStatus `json:"status"`
	// Reason is the strategy's explanation, e.g. "signal" or "stop_loss".
	Reason string `json:"reason"`
	// History lists every status the order went through, in order.
	History []OrderStatus `json:"history"`

	CreatedBar    int       `json:"createdBar"`
	CreatedAt     time.Time `json:"createdAt"`
	ExecutedBar   int       `json:"executedBar"`
	ExecutedAt    time.Time `json:"executedAt"`
	ExecutedPrice float64   `json:"executedPrice"`
	Commission    float64   `json:"commission"`
	// RejectionReason explains Margin, Rejected and Canceled outcomes.
	RejectionReason string `json:"rejectionReason,omitempty"`
}

// IsTerminal returns true if the order is in a final state.
func (o Order) IsTerminal() bool {
	return IsTerminal(o.Status)
}

// IsFilled returns true if the order completed.
func (o Order) IsFilled() bool {
	return o.Status == OrderStatusCompleted
}

// Trade is a closed round trip, appended when the position returns to flat.
type Trade struct {
	EntryPrice float64 `json:"entryPrice"`
	ExitPrice  float64 `json:"exitPrice"`
	Size       float64 `json:"size"`
	// GrossPnL is (exit - entry) * size before commission.
	GrossPnL float64 `json:"grossPnl"`
	// Commission is entry plus exit commission.
	Commission float64 `json:"commission"`
	// PnL is GrossPnL - Commission.
	PnL        float64   `json:"pnl"`
	EntryBar   int       `json:"entryBar"`
	ExitBar    int       `json:"exitBar"`
	BarLength  int       `json:"barLength"`
	EntryTime  time.Time `json:"entryTime"`
	ExitTime   time.Time `json:"exitTime"`
	ExitReason string    `json:"exitReason"`
}

// IsWin returns true if the trade was profitable after commission. A
// break-even trade (PnL == 0) counts as a loss, as does one whose gross
// profit is exactly eaten by commission; win rate and the trade counters
// rely on this split.
func (t Trade) IsWin() bool {
	return t.PnL > 0
}
