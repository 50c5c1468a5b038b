package backtest

import (
	"github.com/shopspring/decimal"
)

// Report is the performance summary of one run. Ratios (TotalReturn,
// MaxDrawdown, WinRate) are fractions rounded to 4 places, money fields are
// rounded to cents and AverageTradeLength to one decimal.
type Report struct {
	TotalReturn        float64 `json:"totalReturn"`
	SharpeRatio        float64 `json:"sharpeRatio"`
	MaxDrawdown        float64 `json:"maxDrawdown"`
	MaxDrawdownMoney   float64 `json:"maxDrawdownMoney"`
	MaxDrawdownLength  int     `json:"maxDrawdownLength"`
	TotalTrades        int     `json:"totalTrades"`
	WinningTrades      int     `json:"winningTrades"`
	LosingTrades       int     `json:"losingTrades"`
	WinRate            float64 `json:"winRate"`
	AverageTradeLength float64 `json:"averageTradeLength"`
	GrossProfit        float64 `json:"grossProfit"`
	GrossLoss          float64 `json:"grossLoss"`
	MaxProfit          float64 `json:"maxProfit"`
	MaxLoss            float64 `json:"maxLoss"`
	FinalValue         float64 `json:"finalValue"`
	// FailedOrders counts orders that ended in Margin or Rejected.
	FailedOrders int `json:"failedOrders"`
}

const (
	ratioPlaces  = 4
	moneyPlaces  = 2
	lengthPlaces = 1
)

// normalize sanitizes then rounds every float field.
func (r Report) normalize() Report {
	r.TotalReturn = round(r.TotalReturn, ratioPlaces)
	r.SharpeRatio = round(r.SharpeRatio, ratioPlaces)
	r.MaxDrawdown = round(r.MaxDrawdown, ratioPlaces)
	r.WinRate = round(r.WinRate, ratioPlaces)
	r.MaxDrawdownMoney = round(r.MaxDrawdownMoney, moneyPlaces)
	r.GrossProfit = round(r.GrossProfit, moneyPlaces)
	r.GrossLoss = round(r.GrossLoss, moneyPlaces)
	r.MaxProfit = round(r.MaxProfit, moneyPlaces)
	r.MaxLoss = round(r.MaxLoss, moneyPlaces)
	r.FinalValue = round(r.FinalValue, moneyPlaces)
	r.AverageTradeLength = round(r.AverageTradeLength, lengthPlaces)
	return r
}

func round(v float64, places int32) float64 {
	v = Sanitize(v)
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
