package models

import "context"

// Provider names. These are the values stored on tasks and responses and
// the keys used by entitlement tiers.
const (
	ProviderOpenAI     = "openai"
	ProviderPerplexity = "perplexity"
	ProviderGemini     = "gemini"
	ProviderAIOverview = "ai_overview"
)

// AssistantProvider is the core interface every AI assistant integration
// implements. Never call vendor clients directly — always inject this.
type AssistantProvider interface {
	// Ask sends one prompt and returns the assistant's answer.
	Ask(ctx context.Context, prompt string) (Answer, error)
	// Name returns the provider identifier (e.g. "openai", "gemini").
	Name() string
}

// Answer is a single provider response to a prompt.
type Answer struct {
	Text      string `json:"text"`
	Model     string `json:"model"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
}
