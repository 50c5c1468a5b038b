package main

import (
	"errors"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/barsim/internal/app"
	"github.com/newthinker/barsim/internal/backtest"
	"github.com/newthinker/barsim/internal/config"
)

var (
	runSymbol   string
	runStrategy string
	runPeriod   int
	runFull     bool
)

// errRunFailed is returned after the failure record has been printed.
var errRunFailed = errors.New("backtest failed")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Backtest one strategy on one symbol",
	Long: `Fetch the configured lookback window for a symbol, run the strategy over
it and print the performance report as JSON. On failure a JSON failure record
is printed instead and the command exits non-zero.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSymbol, "symbol", "", "symbol to backtest (default data.symbol)")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "strategy name (default strategy.name)")
	runCmd.Flags().IntVar(&runPeriod, "period", 0, "indicator period (default strategy.period)")
	runCmd.Flags().BoolVar(&runFull, "full", false, "print the full result including orders, trades and equity")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App, cfg *config.Config, log *zap.Logger) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		symbol := runSymbol
		if symbol == "" {
			symbol = cfg.Data.Symbol
		}
		params := a.Params()
		if runStrategy != "" {
			params.Name = runStrategy
		}
		if runPeriod > 0 {
			params.Period = runPeriod
		}

		bars, err := a.FetchBars(ctx, symbol)
		if err != nil {
			return fail(out, err)
		}
		res, err := a.Run(ctx, bars, params)
		if err != nil {
			return fail(out, err)
		}

		log.Debug("run finished", zap.String("run_id", res.RunID))
		if runFull {
			return printJSON(out, res)
		}
		return printJSON(out, res.Report)
	})
}

// fail prints the failure record for err and reports a failed run.
func fail(w io.Writer, err error) error {
	if perr := printJSON(w, backtest.NewFailure(err)); perr != nil {
		return perr
	}
	return errRunFailed
}
