// internal/storage/archive/reports.go
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/newthinker/barsim/internal/backtest"
	"github.com/newthinker/barsim/internal/core"
)

// FailureRecord is an archived failed run.
type FailureRecord struct {
	ID       string           `json:"id"`
	Strategy string           `json:"strategy"`
	Symbol   string           `json:"symbol"`
	Time     time.Time        `json:"time"`
	Failure  backtest.Failure `json:"failure"`
}

// Reports archives backtest results as JSON documents laid out as
//
//	results/<strategy>/<SYMBOL>/<YYYY-MM-DD>/<run id>.json
//	failures/<YYYY-MM-DD>/<id>.json
type Reports struct {
	store Storage
	now   func() time.Time
}

// NewReports creates a report archive on top of store.
func NewReports(store Storage) *Reports {
	return &Reports{store: store, now: time.Now}
}

// SaveResult writes res and returns its archive path.
func (r *Reports) SaveResult(ctx context.Context, res *backtest.Result) (string, error) {
	if res == nil || res.RunID == "" {
		return "", core.WrapError(core.ErrStorageFailed, fmt.Errorf("result has no run id"))
	}
	p := path.Join("results", segment(res.Strategy), strings.ToUpper(segment(res.Symbol)),
		r.now().UTC().Format("2006-01-02"), res.RunID+".json")

	if err := r.write(ctx, p, res); err != nil {
		return "", err
	}
	return p, nil
}

// SaveFailure writes a failed run and returns its archive path.
func (r *Reports) SaveFailure(ctx context.Context, strategyName, symbol string, f backtest.Failure) (string, error) {
	now := r.now().UTC()
	rec := FailureRecord{
		ID:       uuid.NewString(),
		Strategy: strategyName,
		Symbol:   symbol,
		Time:     now,
		Failure:  f,
	}
	p := path.Join("failures", now.Format("2006-01-02"), rec.ID+".json")

	if err := r.write(ctx, p, rec); err != nil {
		return "", err
	}
	return p, nil
}

// LoadResult reads an archived result.
func (r *Reports) LoadResult(ctx context.Context, p string) (*backtest.Result, error) {
	ok, err := r.store.Exists(ctx, p)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	if !ok {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no archived result at %s", p))
	}

	data, err := r.store.Read(ctx, p)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("reading %s: %w", p, err))
	}
	var res backtest.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("decoding %s: %w", p, err))
	}
	return &res, nil
}

// ListResults returns archived result paths, optionally narrowed to one
// strategy, newest day first.
func (r *Reports) ListResults(ctx context.Context, strategyName string) ([]string, error) {
	prefix := "results"
	if strategyName != "" {
		prefix = path.Join(prefix, segment(strategyName))
	}
	paths, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}

	out := paths[:0]
	for _, p := range paths {
		if path.Ext(p) == ".json" {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := path.Base(path.Dir(out[i])), path.Base(path.Dir(out[j]))
		if di != dj {
			return di > dj
		}
		return out[i] < out[j]
	})
	return out, nil
}

func (r *Reports) write(ctx context.Context, p string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return core.WrapError(core.ErrStorageFailed, fmt.Errorf("encoding %s: %w", p, err))
	}
	if err := r.store.Write(ctx, p, data); err != nil {
		return core.WrapError(core.ErrStorageFailed, fmt.Errorf("writing %s: %w", p, err))
	}
	return nil
}

// segment makes s safe to use as one path element.
func segment(s string) string {
	s = strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
