package broker

import "time"

// Position is the single long holding. A zero Size means flat.
type Position struct {
	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entryPrice"`
	// EntryCommission accumulates commission paid on every buy fill.
	EntryCommission float64   `json:"entryCommission"`
	OpenedBar       int       `json:"openedBar"`
	OpenedAt        time.Time `json:"openedAt"`

	// Exit accumulators for positions reduced by more than one fill.
	exitSize       float64
	exitPrice      float64
	exitCommission float64
	realizedGross  float64
}

// IsLong returns true if a position is open.
func (p Position) IsLong() bool {
	return p.Size > 0
}

// IsFlat returns true if no position is open.
func (p Position) IsFlat() bool {
	return p.Size == 0
}

// MarketValue marks the position to price.
func (p Position) MarketValue(price float64) float64 {
	return p.Size * price
}

// addFill applies a buy fill and averages the entry price by size.
// new entry = (old_entry * old_size + fill_price * fill_size) / (old_size + fill_size)
func (p *Position) addFill(price, size, commission float64, bar int, at time.Time) {
	if p.Size == 0 {
		*p = Position{
			Size:            size,
			EntryPrice:      price,
			EntryCommission: commission,
			OpenedBar:       bar,
			OpenedAt:        at,
		}
		return
	}
	total := p.EntryPrice*p.Size + price*size
	p.Size += size
	p.EntryPrice = total / p.Size
	p.EntryCommission += commission
}

// reduceFill applies a sell fill. When the position reaches zero it returns
// the completed round trip and resets to flat.
func (p *Position) reduceFill(price, size, commission float64, bar int, at time.Time, reason string) (Trade, bool) {
	p.realizedGross += (price - p.EntryPrice) * size
	if p.exitSize == 0 {
		p.exitPrice = price
	} else {
		p.exitPrice = (p.exitPrice*p.exitSize + price*size) / (p.exitSize + size)
	}
	p.exitSize += size
	p.exitCommission += commission
	p.Size -= size

	if p.Size > 0 {
		return Trade{}, false
	}

	totalCommission := p.EntryCommission + p.exitCommission
	trade := Trade{
		EntryPrice: p.EntryPrice,
		ExitPrice:  p.exitPrice,
		Size:       p.exitSize,
		GrossPnL:   p.realizedGross,
		Commission: totalCommission,
		PnL:        p.realizedGross - totalCommission,
		EntryBar:   p.OpenedBar,
		ExitBar:    bar,
		BarLength:  bar - p.OpenedBar,
		EntryTime:  p.OpenedAt,
		ExitTime:   at,
		ExitReason: reason,
	}
	*p = Position{}
	return trade, true
}
