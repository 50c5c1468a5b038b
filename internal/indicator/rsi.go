package indicator

// RSISeries is a lazily evaluated Wilder-smoothed relative strength index.
//
// The first value covers the trailing period bars, so index period-1 is the
// first defined one. Seeds are the simple mean gain and loss over the
// period-1 changes in that window, then avg = (avg*(period-1) + x) / period.
type RSISeries struct {
	closes  []float64
	period  int
	values  []float64
	avgGain float64
	avgLoss float64
}

// NewRSISeries creates an RSI over closes.
func NewRSISeries(closes []float64, period int) (*RSISeries, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	return &RSISeries{
		closes: closes,
		period: period,
		values: make([]float64, 0, len(closes)),
	}, nil
}

func (r *RSISeries) Name() string { return "rsi" }

func (r *RSISeries) Len() int { return len(r.closes) }

func (r *RSISeries) Warmup() int { return r.period - 1 }

// At returns the RSI at bar i, in [0,100], or ErrNotReady during warmup.
func (r *RSISeries) At(i int) (float64, error) {
	if err := checkIndex(r, i); err != nil {
		return 0, err
	}
	if i < r.Warmup() {
		return 0, ErrNotReady
	}
	r.extend(i)
	return r.values[i], nil
}

func (r *RSISeries) extend(i int) {
	p := float64(r.period)
	seed := r.period - 1
	for k := len(r.values); k <= i; k++ {
		var gain, loss float64
		if k > 0 {
			gain, loss = split(r.closes[k] - r.closes[k-1])
		}

		switch {
		case k < seed:
			r.avgGain += gain
			r.avgLoss += loss
			r.values = append(r.values, 0)
			continue
		case k == seed:
			r.avgGain += gain
			r.avgLoss += loss
			if seed > 0 {
				r.avgGain /= float64(seed)
				r.avgLoss /= float64(seed)
			}
		default:
			r.avgGain = (r.avgGain*(p-1) + gain) / p
			r.avgLoss = (r.avgLoss*(p-1) + loss) / p
		}
		r.values = append(r.values, rsiValue(r.avgGain, r.avgLoss))
	}
}

func split(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50 // flat prices
		}
		return 100
	}
	rs := avgGain / avgLoss
	return clamp(100-100/(1+rs), 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
