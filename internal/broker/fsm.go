package broker

import "fmt"

// transitions enumerates every legal status change. Statuses without an
// entry are terminal.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:   {OrderStatusSubmitted, OrderStatusRejected},
	OrderStatusSubmitted: {OrderStatusAccepted, OrderStatusRejected},
	OrderStatusAccepted: {
		OrderStatusCompleted,
		OrderStatusCanceled,
		OrderStatusMargin,
		OrderStatusRejected,
	},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition leaves status.
func IsTerminal(status OrderStatus) bool {
	_, ok := transitions[status]
	return !ok
}

// transition moves the order to a new status or fails with ErrInvalidTransition.
func (o *Order) transition(to OrderStatus) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s (order %s)", ErrInvalidTransition, o.Status, to, o.ID)
	}
	o.Status = to
	o.History = append(o.History, to)
	return nil
}
