package indicator

// SMA returns the rolling mean of prices. Element j averages
// prices[j..j+period-1], so the result has len(prices)-period+1 values and is
// empty when there are fewer prices than period.
func SMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return []float64{}
	}

	result := make([]float64, 0, len(prices)-period+1)

	// Calculate first SMA
	var sum float64
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	result = append(result, sum/float64(period))

	// Rolling calculation
	for i := period; i < len(prices); i++ {
		sum = sum - prices[i-period] + prices[i]
		result = append(result, sum/float64(period))
	}

	return result
}

// SMASeries is a simple moving average aligned to bar index. Values come
// from SMA on first access and are cached.
type SMASeries struct {
	closes []float64
	period int
	values []float64
}

// NewSMASeries creates an SMA over closes. Index i averages closes[i-period+1..i].
func NewSMASeries(closes []float64, period int) (*SMASeries, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	return &SMASeries{
		closes: closes,
		period: period,
	}, nil
}

func (s *SMASeries) Name() string { return "sma" }

func (s *SMASeries) Len() int { return len(s.closes) }

func (s *SMASeries) Warmup() int { return s.period - 1 }

// At returns the SMA at bar i or ErrNotReady during warmup.
func (s *SMASeries) At(i int) (float64, error) {
	if err := checkIndex(s, i); err != nil {
		return 0, err
	}
	if i < s.Warmup() {
		return 0, ErrNotReady
	}
	if s.values == nil {
		s.values = SMA(s.closes, s.period)
	}
	return s.values[i-s.Warmup()], nil
}
