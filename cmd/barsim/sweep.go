package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/barsim/internal/app"
	"github.com/newthinker/barsim/internal/backtest"
	"github.com/newthinker/barsim/internal/config"
	"github.com/newthinker/barsim/internal/strategy"
)

var (
	sweepSymbol   string
	sweepStrategy string
	sweepPeriods  []int
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Backtest a strategy over several indicator periods",
	Long: `Fetch bars once and run the strategy for every period given, then print
one row per run. Runs that fail are listed with their error code.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepSymbol, "symbol", "", "symbol to backtest (default data.symbol)")
	sweepCmd.Flags().StringVar(&sweepStrategy, "strategy", "", "strategy name (default strategy.name)")
	sweepCmd.Flags().IntSliceVar(&sweepPeriods, "periods", []int{10, 20, 30, 50}, "indicator periods to try")

	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App, cfg *config.Config, log *zap.Logger) error {
		ctx := cmd.Context()

		symbol := sweepSymbol
		if symbol == "" {
			symbol = cfg.Data.Symbol
		}
		base := a.Params()
		if sweepStrategy != "" {
			base.Name = sweepStrategy
		}
		if len(sweepPeriods) == 0 {
			return fmt.Errorf("at least one period is required")
		}

		sets := make([]strategy.Params, 0, len(sweepPeriods))
		for _, p := range sweepPeriods {
			set := base
			set.Period = p
			sets = append(sets, set)
		}

		bars, err := a.FetchBars(ctx, symbol)
		if err != nil {
			return fail(cmd.OutOrStdout(), err)
		}
		results, err := a.Sweep(ctx, bars, sets)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PERIOD\tRETURN\tSHARPE\tMAX DD\tTRADES\tWIN RATE\tFINAL VALUE")
		for _, r := range results {
			if r.Err != nil {
				f := backtest.NewFailure(r.Err)
				fmt.Fprintf(w, "%d\t%s\t\t\t\t\t%s\n", r.Params.Period, f.Code, f.Error)
				continue
			}
			rep := r.Result.Report
			fmt.Fprintf(w, "%d\t%.2f%%\t%.2f\t%.2f%%\t%d\t%.1f%%\t%.2f\n",
				r.Params.Period,
				rep.TotalReturn*100,
				rep.SharpeRatio,
				rep.MaxDrawdown*100,
				rep.TotalTrades,
				rep.WinRate*100,
				rep.FinalValue,
			)
		}
		return w.Flush()
	})
}
