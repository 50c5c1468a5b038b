package main

import (
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/newthinker/barsim/internal/app"
	"github.com/newthinker/barsim/internal/config"
	"github.com/newthinker/barsim/internal/logger"
)

// loadConfig reads --config, or the defaults when it is not set.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: debug || cfg.Log.Development,
	})
}

// withApp builds the application from configuration, runs fn and releases
// everything afterwards.
func withApp(fn func(a *app.App, cfg *config.Config, log *zap.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfgFile == "" {
		log.Warn("no config file specified, using defaults")
	}

	a, err := app.Build(cfg, log)
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}
	defer a.Close()

	if err := fn(a, cfg, log); err != nil {
		return err
	}
	if err := a.WriteMetrics(); err != nil {
		log.Warn("failed to write metrics", zap.Error(err))
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
