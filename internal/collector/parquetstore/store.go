// Package parquetstore keeps downloaded bars in Parquet files so backtests
// can run offline and reproducibly.
package parquetstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/newthinker/barsim/internal/collector"
	"github.com/newthinker/barsim/internal/core"
)

// Name is the collector name used in configuration.
const Name = "parquet"

// Compile-time interface checks.
var _ collector.Collector = (*Store)(nil)
var _ collector.Sink = (*Store)(nil)

// Store reads and writes bar files laid out as
//
//	<dir>/<SYMBOL>/<interval>.parquet
type Store struct {
	dir string
	loc *time.Location
}

// New creates a Store rooted at dir. Bars read back are converted to loc;
// nil keeps UTC.
func New(dir string, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{dir: dir, loc: loc}
}

// barRecord is the on-disk schema.
type barRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

func (s *Store) Name() string {
	return Name
}

// Save merges bars into the file for symbol and interval. Incoming bars
// replace stored bars with the same timestamp.
func (s *Store) Save(symbol, interval string, bars []core.OHLCV) error {
	if len(bars) == 0 {
		return nil
	}
	path, err := s.path(symbol, interval)
	if err != nil {
		return err
	}

	existing, err := readFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return core.WrapError(core.ErrStorageFailed, fmt.Errorf("reading %s: %w", path, err))
	}

	incoming := make([]barRecord, len(bars))
	for i, b := range bars {
		incoming[i] = barRecord{
			Symbol:    symbol,
			Timestamp: b.Time.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return core.WrapError(core.ErrStorageFailed, err)
	}
	if err := parquet.WriteFile(path, merge(existing, incoming)); err != nil {
		return core.WrapError(core.ErrStorageFailed, fmt.Errorf("writing %s: %w", path, err))
	}
	return nil
}

// Load returns every stored bar for symbol and interval.
func (s *Store) Load(symbol, interval string) ([]core.OHLCV, error) {
	path, err := s.path(symbol, interval)
	if err != nil {
		return nil, err
	}
	records, err := readFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no bar file for %s %s", symbol, interval))
		}
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("reading %s: %w", path, err))
	}

	bars := make([]core.OHLCV, len(records))
	for i, r := range records {
		bars[i] = core.OHLCV{
			Symbol:   symbol,
			Interval: interval,
			Open:     r.Open,
			High:     r.High,
			Low:      r.Low,
			Close:    r.Close,
			Volume:   r.Volume,
			Time:     time.UnixMilli(r.Timestamp),
		}
	}
	return core.NormalizeBars(bars, s.loc), nil
}

// FetchHistory serves stored bars in [start, end).
func (s *Store) FetchHistory(ctx context.Context, symbol string, start, end time.Time, interval string) ([]core.OHLCV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := s.Load(symbol, interval)
	if err != nil {
		return nil, err
	}

	bars := make([]core.OHLCV, 0, len(all))
	for _, b := range all {
		if !b.Time.Before(start) && b.Time.Before(end) {
			bars = append(bars, b)
		}
	}
	if len(bars) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no stored bars for %s between %s and %s",
			symbol, start.Format("2006-01-02"), end.Format("2006-01-02")))
	}
	return bars, nil
}

// Symbols lists the symbols that have at least one bar file.
func (s *Store) Symbols() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (s *Store) path(symbol, interval string) (string, error) {
	if symbol == "" || interval == "" {
		return "", core.WrapError(core.ErrConfigInvalid, fmt.Errorf("symbol and interval are required"))
	}
	for _, part := range []string{symbol, interval} {
		if strings.ContainsAny(part, `/\`) || part == "." || part == ".." {
			return "", core.WrapError(core.ErrConfigInvalid, fmt.Errorf("invalid path component %q", part))
		}
	}
	return filepath.Join(s.dir, strings.ToUpper(symbol), interval+".parquet"), nil
}

func readFile(path string) ([]barRecord, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[barRecord](path)
}

// merge deduplicates records by timestamp, preferring incoming over
// existing. The result is sorted by timestamp.
func merge(existing, incoming []barRecord) []barRecord {
	seen := make(map[int64]barRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]barRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
