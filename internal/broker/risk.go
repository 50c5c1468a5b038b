package broker

import "fmt"

// CheckResult represents the outcome of the pre-fill checks.
type CheckResult struct {
	// Allowed indicates whether the order may be filled.
	Allowed bool
	// Status is the terminal failure status when not allowed.
	Status OrderStatus
	// Reason provides explanation when the order is refused.
	Reason string
}

// checkOrder validates an accepted order against account state at the fill
// price. Size problems and selling without a position are Rejected; buys
// that cost more than the available cash fail with Margin.
func checkOrder(o *Order, price, cash, commissionRate float64, pos Position) CheckResult {
	if o.Side != OrderSideClose && o.Size <= 0 {
		return CheckResult{
			Status: OrderStatusRejected,
			Reason: fmt.Sprintf("invalid order size %v", o.Size),
		}
	}

	switch o.Side {
	case OrderSideBuy:
		cost := price*o.Size + commission(commissionRate, price, o.Size)
		if cost > cash {
			return CheckResult{
				Status: OrderStatusMargin,
				Reason: fmt.Sprintf("insufficient cash: need %.2f, have %.2f", cost, cash),
			}
		}
	case OrderSideSell, OrderSideClose:
		if !pos.IsLong() {
			return CheckResult{
				Status: OrderStatusRejected,
				Reason: "no open position",
			}
		}
		if o.Side == OrderSideSell && o.Size > pos.Size {
			return CheckResult{
				Status: OrderStatusRejected,
				Reason: fmt.Sprintf("sell size %v exceeds position %v", o.Size, pos.Size),
			}
		}
	default:
		return CheckResult{
			Status: OrderStatusRejected,
			Reason: fmt.Sprintf("unknown side %q", o.Side),
		}
	}

	return CheckResult{Allowed: true}
}

// commission is rate * price * size.
func commission(rate, price, size float64) float64 {
	return rate * price * size
}
