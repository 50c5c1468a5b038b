// internal/synth/synthesizer.go
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/newthinker/barsim/internal/backtest"
	"github.com/newthinker/barsim/internal/core"
	"github.com/newthinker/barsim/internal/llm"
	"github.com/newthinker/barsim/internal/strategy"
)

// Synthesizer turns a plain-language trading idea into validated strategy
// parameters for one of the registered variants.
type Synthesizer struct {
	llm      llm.Provider
	registry *strategy.Registry
	logger   *zap.Logger
}

// NewSynthesizer creates a new strategy synthesizer.
func NewSynthesizer(llmProvider llm.Provider, registry *strategy.Registry, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		llm:      llmProvider,
		registry: registry,
		logger:   logger,
	}
}

// Request describes what to synthesize.
type Request struct {
	// Prompt is the trading idea, e.g. "buy oversold dips on 5 minute bars".
	Prompt string
	// Base fills every field the model leaves out.
	Base strategy.Params
	// Previous, when set, is the report of the last attempt so the model can
	// refine instead of starting over.
	Previous *backtest.Report
}

// Result holds the proposed parameters.
type Result struct {
	Params      strategy.Params `json:"params"`
	Explanation string          `json:"explanation"`
	Usage       llm.Usage       `json:"-"`
}

// proposal is the JSON shape the model is asked to return.
type proposal struct {
	strategy.Params
	Explanation string `json:"explanation"`
}

// Synthesize asks the model for parameters and validates them by building
// the variant they name.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("prompt is empty"))
	}
	if req.Base.Name == "" {
		req.Base = strategy.DefaultParams()
	}

	resp, err := s.llm.Chat(ctx, llm.ChatRequest{
		SystemPrompt: s.systemPrompt(),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: s.buildPrompt(req)},
		},
		MaxTokens:   1024,
		Temperature: 0.2,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	p := proposal{Params: req.Base}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &p); err != nil {
		s.logger.Warn("unparseable synthesis response",
			zap.String("provider", s.llm.Name()),
			zap.String("content", resp.Content),
		)
		return nil, core.WrapError(core.ErrLLMFailed, fmt.Errorf("decoding proposal: %w", err))
	}

	if _, err := s.registry.Build(p.Params); err != nil {
		return nil, core.WrapError(core.ErrLLMFailed, fmt.Errorf("proposed parameters rejected: %w", err))
	}

	s.logger.Info("strategy synthesized",
		zap.String("provider", s.llm.Name()),
		zap.String("strategy", p.Name),
		zap.Int("period", p.Period),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Int("total_tokens", resp.Usage.Total()),
	)

	return &Result{
		Params:      p.Params,
		Explanation: p.Explanation,
		Usage:       resp.Usage,
	}, nil
}

func (s *Synthesizer) systemPrompt() string {
	return fmt.Sprintf(synthesizerSystemPrompt, strings.Join(s.registry.Names(), ", "))
}

func (s *Synthesizer) buildPrompt(req Request) string {
	var sb strings.Builder

	sb.WriteString("## Idea:\n")
	sb.WriteString(strings.TrimSpace(req.Prompt))
	sb.WriteString("\n\n")

	base, _ := json.Marshal(req.Base)
	sb.WriteString("## Current parameters:\n")
	sb.WriteString(string(base))
	sb.WriteString("\n\n")

	if r := req.Previous; r != nil {
		sb.WriteString("## Last backtest with these parameters:\n")
		sb.WriteString(fmt.Sprintf("- Total return: %.2f%%\n", r.TotalReturn*100))
		sb.WriteString(fmt.Sprintf("- Sharpe ratio: %.2f\n", r.SharpeRatio))
		sb.WriteString(fmt.Sprintf("- Max drawdown: %.2f%%\n", r.MaxDrawdown*100))
		sb.WriteString(fmt.Sprintf("- Trades: %d (won %d, lost %d)\n", r.TotalTrades, r.WinningTrades, r.LosingTrades))
		sb.WriteString(fmt.Sprintf("- Win rate: %.1f%%\n", r.WinRate*100))
		sb.WriteString("\nAdjust the parameters to improve on this result.\n\n")
	}

	sb.WriteString("Respond with JSON only.\n")
	return sb.String()
}

// extractJSON trims markdown fences and any prose around the first JSON
// object in s.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

const synthesizerSystemPrompt = `You are a quantitative strategy designer for a long-only bar backtester.
Translate the user's trading idea into parameters for exactly one of these strategies: %s.

Strategies:
- ma_crossover: compares the close with its simple moving average over "period" bars.
  mode "reversion" buys below the average and sells above it; mode "trend" does the opposite.
- rsi_threshold: Wilder RSI over "period" bars. Buys below "oversold", sells above "overbought" (0-100, oversold < overbought).

Shared parameters:
- risk_fraction: share of cash committed per entry, in (0, 1].
- stop_loss_fraction: exit when close falls this fraction below the entry price, in (0, 1].
- unit: lot size that order sizes are rounded down to.

Always respond with valid JSON:
{
  "name": "strategy_name",
  "period": 20,
  "risk_fraction": 0.02,
  "stop_loss_fraction": 0.02,
  "oversold": 30,
  "overbought": 70,
  "mode": "reversion",
  "unit": 1,
  "explanation": "why these parameters fit the idea"
}

Omit fields you do not want to change.`
