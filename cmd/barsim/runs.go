package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/barsim/internal/app"
	"github.com/newthinker/barsim/internal/broker"
	"github.com/newthinker/barsim/internal/config"
	"github.com/newthinker/barsim/internal/storage/ledger"
)

var (
	runsSymbol   string
	runsStrategy string
	runsStatus   string
	runsLimit    int
	runsBest     bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded backtest runs",
	RunE:  runRuns,
}

var runsShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show one recorded run with its trades",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsCmd.Flags().StringVar(&runsSymbol, "symbol", "", "filter by symbol")
	runsCmd.Flags().StringVar(&runsStrategy, "strategy", "", "filter by strategy")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status (ok or error)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
	runsCmd.Flags().BoolVar(&runsBest, "best", false, "order by total return instead of date")

	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func requireLedger(a *app.App) (ledger.Store, error) {
	l := a.Ledger()
	if l == nil {
		return nil, fmt.Errorf("run ledger is disabled, set storage.ledger.path")
	}
	return l, nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App, cfg *config.Config, log *zap.Logger) error {
		l, err := requireLedger(a)
		if err != nil {
			return err
		}

		filter := ledger.ListFilter{
			Symbol:   runsSymbol,
			Strategy: runsStrategy,
			Status:   runsStatus,
			ByReturn: runsBest,
			Limit:    runsLimit,
		}
		runs, err := l.ListRuns(cmd.Context(), filter)
		if err != nil {
			return err
		}
		total, err := l.Count(cmd.Context(), filter)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tSTRATEGY\tSYMBOL\tSTATUS\tRETURN\tSHARPE\tTRADES")
		for _, r := range runs {
			if r.Status != ledger.StatusOK {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\t\t%s\n",
					r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Strategy, r.Symbol, r.Status, r.Error)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f%%\t%.2f\t%d\n",
				r.ID,
				r.CreatedAt.Format("2006-01-02 15:04"),
				r.Strategy,
				r.Symbol,
				r.Status,
				r.Report.TotalReturn*100,
				r.Report.SharpeRatio,
				r.Report.TotalTrades,
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d runs\n", len(runs), total)
		return nil
	})
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App, cfg *config.Config, log *zap.Logger) error {
		l, err := requireLedger(a)
		if err != nil {
			return err
		}
		run, err := l.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		trades, err := l.Trades(cmd.Context(), run.ID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), struct {
			*ledger.Run
			Trades []broker.Trade `json:"trades"`
		}{run, trades})
	})
}
