package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/newthinker/barsim/internal/core"
	"github.com/spf13/viper"
)

type Config struct {
	Backtest BacktestConfig `mapstructure:"backtest"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Data     DataConfig     `mapstructure:"data"`
	Storage  StorageConfig  `mapstructure:"storage"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

// BacktestConfig holds the simulated account and analytics settings.
type BacktestConfig struct {
	InitialCash    float64 `mapstructure:"initial_cash"`
	CommissionRate float64 `mapstructure:"commission_rate"`
	FillPolicy     string  `mapstructure:"fill_policy"` // "same-bar" or "next-bar-open"
	RiskFreeRate   float64 `mapstructure:"risk_free_rate"`
	// BarsPerYear of 0 derives the factor from data.interval.
	BarsPerYear    float64 `mapstructure:"bars_per_year"`
	LiquidateAtEnd bool    `mapstructure:"liquidate_at_end"`
}

type StrategyConfig struct {
	Name             string  `mapstructure:"name"`
	Period           int     `mapstructure:"period"`
	RiskFraction     float64 `mapstructure:"risk_fraction"`
	StopLossFraction float64 `mapstructure:"stop_loss_fraction"`
	Oversold         float64 `mapstructure:"oversold"`
	Overbought       float64 `mapstructure:"overbought"`
	Mode             string  `mapstructure:"mode"`
	Unit             float64 `mapstructure:"unit"`
}

// DataConfig selects where bars come from.
type DataConfig struct {
	Source     string        `mapstructure:"source"` // "yahoo" or "parquet"
	Symbol     string        `mapstructure:"symbol"`
	Interval   string        `mapstructure:"interval"`
	Days       int           `mapstructure:"days"`
	ChunkDays  int           `mapstructure:"chunk_days"`
	Timezone   string        `mapstructure:"timezone"`
	ParquetDir string        `mapstructure:"parquet_dir"`
	Timeout    time.Duration `mapstructure:"timeout"`
	// Cache writes fetched bars to parquet_dir for later offline runs.
	Cache bool `mapstructure:"cache"`
}

type StorageConfig struct {
	Reports ReportsConfig `mapstructure:"reports"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
}

type ReportsConfig struct {
	Type string   `mapstructure:"type"` // "localfs", "s3" or empty to disable
	Path string   `mapstructure:"path"` // For localfs
	S3   S3Config `mapstructure:"s3"`   // For S3
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// LedgerConfig points at the SQLite run ledger. An empty path disables it.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

type LLMConfig struct {
	Provider string       `mapstructure:"provider"`
	Claude   ClaudeConfig `mapstructure:"claude"`
	OpenAI   OpenAIConfig `mapstructure:"openai"`
}

type ClaudeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// NotifyConfig selects where finished runs are announced. Each channel is
// enabled by setting its address.
type NotifyConfig struct {
	// OnlyFailures suppresses notifications for successful runs.
	OnlyFailures bool           `mapstructure:"only_failures"`
	Webhook      WebhookConfig  `mapstructure:"webhook"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path receives the Prometheus text exposition after a run.
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from file on top of Defaults. An empty path
// returns the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Support environment variable overrides
	v.SetEnvPrefix("BARSIM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := Defaults()
	bindDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("reading config: %w", err))
		}
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unmarshaling config: %w", err))
	}

	return cfg, nil
}

// bindDefaults registers every default with viper so environment variables
// can override keys that the file does not mention.
func bindDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("backtest.initial_cash", c.Backtest.InitialCash)
	v.SetDefault("backtest.commission_rate", c.Backtest.CommissionRate)
	v.SetDefault("backtest.fill_policy", c.Backtest.FillPolicy)
	v.SetDefault("backtest.risk_free_rate", c.Backtest.RiskFreeRate)
	v.SetDefault("backtest.bars_per_year", c.Backtest.BarsPerYear)
	v.SetDefault("backtest.liquidate_at_end", c.Backtest.LiquidateAtEnd)

	v.SetDefault("strategy.name", c.Strategy.Name)
	v.SetDefault("strategy.period", c.Strategy.Period)
	v.SetDefault("strategy.risk_fraction", c.Strategy.RiskFraction)
	v.SetDefault("strategy.stop_loss_fraction", c.Strategy.StopLossFraction)
	v.SetDefault("strategy.oversold", c.Strategy.Oversold)
	v.SetDefault("strategy.overbought", c.Strategy.Overbought)
	v.SetDefault("strategy.mode", c.Strategy.Mode)
	v.SetDefault("strategy.unit", c.Strategy.Unit)

	v.SetDefault("data.source", c.Data.Source)
	v.SetDefault("data.symbol", c.Data.Symbol)
	v.SetDefault("data.interval", c.Data.Interval)
	v.SetDefault("data.days", c.Data.Days)
	v.SetDefault("data.chunk_days", c.Data.ChunkDays)
	v.SetDefault("data.timezone", c.Data.Timezone)
	v.SetDefault("data.parquet_dir", c.Data.ParquetDir)
	v.SetDefault("data.timeout", c.Data.Timeout)
	v.SetDefault("data.cache", c.Data.Cache)

	v.SetDefault("storage.reports.type", c.Storage.Reports.Type)
	v.SetDefault("storage.reports.path", c.Storage.Reports.Path)
	v.SetDefault("storage.ledger.path", c.Storage.Ledger.Path)

	v.SetDefault("llm.provider", c.LLM.Provider)
	v.SetDefault("llm.claude.api_key", c.LLM.Claude.APIKey)
	v.SetDefault("llm.claude.model", c.LLM.Claude.Model)
	v.SetDefault("llm.openai.api_key", c.LLM.OpenAI.APIKey)
	v.SetDefault("llm.openai.model", c.LLM.OpenAI.Model)

	v.SetDefault("notify.only_failures", c.Notify.OnlyFailures)
	v.SetDefault("notify.webhook.url", c.Notify.Webhook.URL)
	v.SetDefault("notify.telegram.bot_token", c.Notify.Telegram.BotToken)
	v.SetDefault("notify.telegram.chat_id", c.Notify.Telegram.ChatID)

	v.SetDefault("metrics.enabled", c.Metrics.Enabled)
	v.SetDefault("metrics.path", c.Metrics.Path)

	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.development", c.Log.Development)
}

// Defaults returns SMA(20) mean reversion on 5 minute bars over 60 days with
// 2% risk and a 2% stop.
func Defaults() *Config {
	return &Config{
		Backtest: BacktestConfig{
			InitialCash:    100000,
			CommissionRate: 0.001,
			FillPolicy:     "same-bar",
			RiskFreeRate:   0.01,
		},
		Strategy: StrategyConfig{
			Name:             "ma_crossover",
			Period:           20,
			RiskFraction:     0.02,
			StopLossFraction: 0.02,
			Oversold:         30,
			Overbought:       70,
			Mode:             "reversion",
			Unit:             1,
		},
		Data: DataConfig{
			Source:     "yahoo",
			Interval:   "5m",
			Days:       60,
			ChunkDays:  7,
			Timezone:   "America/New_York",
			ParquetDir: "data",
			Timeout:    30 * time.Second,
		},
		Storage: StorageConfig{
			Reports: ReportsConfig{
				Type: "localfs",
				Path: "reports",
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	b := c.Backtest
	if b.InitialCash <= 0 {
		return invalid("initial_cash must be positive, got %v", b.InitialCash)
	}
	if b.CommissionRate < 0 {
		return invalid("commission_rate cannot be negative, got %v", b.CommissionRate)
	}
	switch b.FillPolicy {
	case "", "same-bar", "next-bar-open":
	default:
		return invalid("fill_policy must be same-bar or next-bar-open, got %q", b.FillPolicy)
	}
	if b.BarsPerYear < 0 {
		return invalid("bars_per_year cannot be negative, got %v", b.BarsPerYear)
	}

	s := c.Strategy
	if s.Name == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("strategy.name is required"))
	}
	if s.Period <= 0 {
		return invalid("strategy period must be positive, got %d", s.Period)
	}
	if s.RiskFraction <= 0 || s.RiskFraction > 1 {
		return invalid("risk_fraction must be in (0,1], got %v", s.RiskFraction)
	}
	if s.StopLossFraction <= 0 || s.StopLossFraction > 1 {
		return invalid("stop_loss_fraction must be in (0,1], got %v", s.StopLossFraction)
	}

	d := c.Data
	switch d.Source {
	case "yahoo":
		if d.Days <= 0 {
			return invalid("data.days must be positive, got %d", d.Days)
		}
		if d.ChunkDays <= 0 {
			return invalid("data.chunk_days must be positive, got %d", d.ChunkDays)
		}
	case "parquet":
		if d.ParquetDir == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("data.parquet_dir required when source is parquet"))
		}
	default:
		return invalid("data.source must be yahoo or parquet, got %q", d.Source)
	}
	if d.Timezone != "" {
		if _, err := time.LoadLocation(d.Timezone); err != nil {
			return invalid("data.timezone %q: %v", d.Timezone, err)
		}
	}

	switch c.Storage.Reports.Type {
	case "", "localfs":
	case "s3":
		if c.Storage.Reports.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("s3 bucket required when reports type is s3"))
		}
	default:
		return invalid("storage.reports.type must be localfs or s3, got %q", c.Storage.Reports.Type)
	}

	tg := c.Notify.Telegram
	if (tg.BotToken == "") != (tg.ChatID == "") {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("notify.telegram needs both bot_token and chat_id"))
	}

	// LLM validation - if provider set, check config exists
	if c.LLM.Provider != "" {
		switch c.LLM.Provider {
		case "claude":
			if c.LLM.Claude.APIKey == "" {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("claude api_key required when provider is claude"))
			}
		case "openai":
			if c.LLM.OpenAI.APIKey == "" {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("openai api_key required when provider is openai"))
			}
		default:
			return invalid("unknown llm provider %q", c.LLM.Provider)
		}
	}

	return nil
}

func invalid(format string, args ...any) error {
	return core.WrapError(core.ErrConfigInvalid, fmt.Errorf(format, args...))
}
