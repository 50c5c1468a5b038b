package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/barsim/internal/app"
	"github.com/newthinker/barsim/internal/config"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [symbol...]",
	Short: "Download bars into the local parquet store",
	Long: `Download the configured lookback window for each symbol from Yahoo Finance
and merge it into data.parquet_dir, so later runs can use data.source=parquet.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App, cfg *config.Config, log *zap.Logger) error {
		var failed int
		for _, symbol := range args {
			n, err := a.Download(cmd.Context(), symbol)
			if err != nil {
				failed++
				log.Error("download failed", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bars (%s)\n", symbol, n, cfg.Data.Interval)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d downloads failed", failed, len(args))
		}
		return nil
	})
}
