package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/barsim/internal/app"
	"github.com/newthinker/barsim/internal/backtest"
	"github.com/newthinker/barsim/internal/config"
	"github.com/newthinker/barsim/internal/llm/factory"
	"github.com/newthinker/barsim/internal/synth"
)

var (
	synthSymbol string
	synthRun    bool
)

var synthCmd = &cobra.Command{
	Use:   "synth [prompt]",
	Short: "Ask the configured LLM for strategy parameters",
	Long: `Describe a trading idea in plain words and let the configured LLM pick a
strategy and its parameters. With --run the proposal is backtested right away.`,
	Args: cobra.ExactArgs(1),
	RunE: runSynth,
}

func init() {
	synthCmd.Flags().StringVar(&synthSymbol, "symbol", "", "symbol to backtest with --run (default data.symbol)")
	synthCmd.Flags().BoolVar(&synthRun, "run", false, "backtest the proposed parameters")

	rootCmd.AddCommand(synthCmd)
}

func runSynth(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App, cfg *config.Config, log *zap.Logger) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		provider, err := factory.New(cfg.LLM)
		if err != nil {
			return fmt.Errorf("creating llm provider: %w", err)
		}

		s := synth.NewSynthesizer(provider, a.Strategies(), log)
		proposal, err := s.Synthesize(ctx, synth.Request{
			Prompt: args[0],
			Base:   a.Params(),
		})
		if err != nil {
			return err
		}
		log.Info("parameters proposed",
			zap.String("provider", provider.Name()),
			zap.String("strategy", proposal.Params.Name),
			zap.Int("input_tokens", proposal.Usage.InputTokens),
			zap.Int("output_tokens", proposal.Usage.OutputTokens),
		)

		if !synthRun {
			return printJSON(out, proposal)
		}

		symbol := synthSymbol
		if symbol == "" {
			symbol = cfg.Data.Symbol
		}
		bars, err := a.FetchBars(ctx, symbol)
		if err != nil {
			return fail(out, err)
		}
		res, err := a.Run(ctx, bars, proposal.Params)
		if err != nil {
			return fail(out, err)
		}
		return printJSON(out, struct {
			*synth.Result
			Report backtest.Report `json:"report"`
		}{proposal, res.Report})
	})
}
