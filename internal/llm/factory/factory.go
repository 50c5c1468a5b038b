// internal/llm/factory/factory.go
package factory

import (
	"fmt"

	"github.com/newthinker/barsim/internal/config"
	"github.com/newthinker/barsim/internal/core"
	"github.com/newthinker/barsim/internal/llm"
	"github.com/newthinker/barsim/internal/llm/claude"
	"github.com/newthinker/barsim/internal/llm/openai"
)

// New creates an LLM provider based on configuration.
func New(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "claude":
		return claude.New(cfg.Claude.APIKey, cfg.Claude.Model)
	case "openai":
		return openai.NewWithBaseURL(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	case "":
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("llm.provider is not set"))
	default:
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown LLM provider: %s", cfg.Provider))
	}
}
