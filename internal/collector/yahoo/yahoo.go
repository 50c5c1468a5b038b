package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/barsim/internal/collector"
	"github.com/newthinker/barsim/internal/core"
)

const (
	baseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

	// Name is the collector name used in configuration.
	Name = "yahoo"
)

var _ collector.Collector = (*Yahoo)(nil)

// validSymbol matches stock symbols like AAPL, MSFT, 600519.SH, 0700.HK, ^GSPC
var validSymbol = regexp.MustCompile(`^\^?[A-Za-z0-9]{1,10}([.=-][A-Za-z]{1,4})?$`)

// validateSymbol checks if a symbol has valid format
func validateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if len(symbol) > 20 {
		return fmt.Errorf("symbol too long: %s", symbol)
	}
	if !validSymbol.MatchString(symbol) {
		return fmt.Errorf("invalid symbol format: %s", symbol)
	}
	return nil
}

// Config controls how history is downloaded.
type Config struct {
	// ChunkDays splits a long range into requests of at most this many
	// days. Intraday history is only served in short windows.
	ChunkDays int
	// Location is applied to every bar timestamp. Nil keeps UTC.
	Location *time.Location
	Timeout  time.Duration
}

// Yahoo implements the Yahoo Finance chart collector
type Yahoo struct {
	client  *http.Client
	baseURL string
	config  Config
	logger  *zap.Logger
}

// New creates a new Yahoo collector
func New(cfg Config, logger *zap.Logger) *Yahoo {
	if cfg.ChunkDays <= 0 {
		cfg.ChunkDays = 7
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Yahoo{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: baseURL,
		config:  cfg,
		logger:  logger,
	}
}

// NewWithBaseURL creates a Yahoo collector with custom base URL (for testing)
func NewWithBaseURL(url string, cfg Config, logger *zap.Logger) *Yahoo {
	y := New(cfg, logger)
	y.baseURL = url
	return y
}

func (y *Yahoo) Name() string {
	return Name
}

// toYahooSymbol converts internal symbol format to Yahoo format
func (y *Yahoo) toYahooSymbol(symbol string) string {
	// Shanghai stocks: 600519.SH -> 600519.SS
	if strings.HasSuffix(symbol, ".SH") {
		return strings.TrimSuffix(symbol, ".SH") + ".SS"
	}
	return symbol
}

// FetchHistory downloads [start, end) in chunks of ChunkDays. Empty chunks
// are skipped; the combined series is sorted, deduplicated keeping the first
// occurrence and converted to the configured location.
func (y *Yahoo) FetchHistory(ctx context.Context, symbol string, start, end time.Time, interval string) ([]core.OHLCV, error) {
	if err := validateSymbol(symbol); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}
	yahooInterval, err := toYahooInterval(interval)
	if err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}
	if !start.Before(end) {
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("start %s is not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339)))
	}

	chunk := time.Duration(y.config.ChunkDays) * 24 * time.Hour
	var data []core.OHLCV
	for from := start; from.Before(end); {
		to := from.Add(chunk)
		if to.After(end) {
			to = end
		}

		y.logger.Debug("downloading chunk",
			zap.String("symbol", symbol),
			zap.Time("from", from),
			zap.Time("to", to),
		)
		bars, err := y.fetchChunk(ctx, symbol, yahooInterval, interval, from, to)
		if err != nil {
			return nil, core.WrapError(core.ErrCollectorFailed, err)
		}
		data = append(data, bars...)
		from = to
	}

	if len(data) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no bars for %s between %s and %s",
			symbol, start.Format("2006-01-02"), end.Format("2006-01-02")))
	}

	data = core.NormalizeBars(data, y.config.Location)
	y.logger.Info("downloaded history",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("bars", len(data)),
	)
	return data, nil
}

func (y *Yahoo) fetchChunk(ctx context.Context, symbol, yahooInterval, interval string, from, to time.Time) ([]core.OHLCV, error) {
	url := fmt.Sprintf("%s/%s?interval=%s&period1=%d&period2=%d&includePrePost=false",
		y.baseURL, y.toYahooSymbol(symbol), yahooInterval, from.Unix(), to.Unix())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if result.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo error: %s", result.Chart.Error.Description)
	}

	if len(result.Chart.Result) == 0 {
		return nil, nil
	}

	r := result.Chart.Result[0]
	if len(r.Indicators.Quote) == 0 {
		return nil, nil
	}
	q := r.Indicators.Quote[0]

	data := make([]core.OHLCV, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		o, h, l, c := at(q.Open, i), at(q.High, i), at(q.Low, i), at(q.Close, i)
		if o == nil || h == nil || l == nil || c == nil {
			continue // Skip missing data
		}
		var volume int64
		if i < len(q.Volume) && q.Volume[i] != nil {
			volume = *q.Volume[i]
		}
		data = append(data, core.OHLCV{
			Symbol:   symbol,
			Interval: interval,
			Open:     *o,
			High:     *h,
			Low:      *l,
			Close:    *c,
			Volume:   volume,
			Time:     time.Unix(ts, 0).UTC(),
		})
	}

	return data, nil
}

func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}

func toYahooInterval(interval string) (string, error) {
	switch interval {
	case "1m", "2m", "5m", "15m", "30m", "1h", "1d", "1wk", "1mo":
		return interval, nil
	case "60m":
		return "1h", nil
	default:
		return "", fmt.Errorf("unsupported interval %q", interval)
	}
}

// Yahoo API response types
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta       chartMeta  `json:"meta"`
	Timestamp  []int64    `json:"timestamp"`
	Indicators indicators `json:"indicators"`
}

type chartMeta struct {
	Symbol       string `json:"symbol"`
	Currency     string `json:"currency"`
	ExchangeName string `json:"exchangeName"`
}

type indicators struct {
	Quote []quoteIndicator `json:"quote"`
}

type quoteIndicator struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}
