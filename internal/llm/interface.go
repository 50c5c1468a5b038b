// Package llm is the chat contract behind strategy synthesis. The
// synthesizer sends one system prompt and one user turn describing a
// trading idea and expects a JSON proposal of strategy parameters back.
// The claude and openai subpackages adapt their SDKs to it.
package llm

import "context"

// Roles a Message may carry. Anything other than RoleAssistant is sent as
// a user turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider is a chat model the synthesizer can ask for a proposal.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest is a single synthesis exchange.
type ChatRequest struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	// Temperature is kept low for synthesis so repeated prompts land on
	// similar parameters.
	Temperature float64
	// JSONMode asks the provider for a bare JSON object. Providers without
	// a native switch rely on the system prompt alone.
	JSONMode bool
}

type Message struct {
	Role    string
	Content string
}

// ChatResponse carries the raw model text; decoding the proposal is the
// caller's job.
type ChatResponse struct {
	Content      string
	Usage        Usage
	FinishReason string
}

// Usage is the token count reported for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}
