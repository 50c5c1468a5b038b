package core

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// OHLCV represents a candlestick/bar
type OHLCV struct {
	Symbol   string
	Interval string // "1m", "5m", "1d"
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
	Time     time.Time
}

// IsValid checks if the bar has a timestamp, finite prices, positive open
// and close, and a high no lower than its low.
func (b OHLCV) IsValid() bool {
	if b.Time.IsZero() {
		return false
	}
	for _, p := range [...]float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return false
		}
	}
	return b.Close > 0 && b.Open > 0 && b.High >= b.Low
}

// Closes extracts closing prices from bars
func Closes(bars []OHLCV) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// ValidateBars checks that a series is non-empty and strictly increasing in time.
// It must hold before a simulation starts.
func ValidateBars(bars []OHLCV) error {
	if len(bars) == 0 {
		return ErrNoData
	}
	for i, b := range bars {
		if !b.IsValid() {
			return WrapError(ErrInvalidData, fmt.Errorf("bar %d has invalid prices or timestamp", i))
		}
		if i > 0 && !b.Time.After(bars[i-1].Time) {
			return WrapError(ErrInvalidData,
				fmt.Errorf("bar %d at %s is not after bar %d at %s", i, b.Time.Format(time.RFC3339), i-1, bars[i-1].Time.Format(time.RFC3339)))
		}
	}
	return nil
}

// NormalizeBars sorts bars by time, drops duplicate timestamps keeping the
// first occurrence and converts timestamps to loc. A nil loc keeps the
// original location. The input slice is not modified.
func NormalizeBars(bars []OHLCV, loc *time.Location) []OHLCV {
	out := make([]OHLCV, len(bars))
	copy(out, bars)

	// Stable so that "first occurrence" survives the sort.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})

	result := make([]OHLCV, 0, len(out))
	for _, b := range out {
		if len(result) > 0 && b.Time.Equal(result[len(result)-1].Time) {
			continue
		}
		if loc != nil {
			b.Time = b.Time.In(loc)
		}
		result = append(result, b)
	}
	return result
}
