// Package provider contains the AI assistant integrations the batch engine
// queries. All clients implement models.AssistantProvider; callers never
// talk to a vendor API directly.
package provider

import (
	"fmt"

	"github.com/brandscope/brandscope/internal/config"
	"github.com/brandscope/brandscope/pkg/models"
)

// Registry holds the configured providers keyed by name.
type Registry map[string]models.AssistantProvider

// NewRegistry builds a client for every provider with usable config.
// Called once at server startup; entitlement filtering happens per-org at
// fan-out time, not here.
func NewRegistry(cfg config.ProvidersConfig) (Registry, error) {
	reg := Registry{}

	if cfg.OpenAI.APIKey != "" {
		reg[models.ProviderOpenAI] = NewOpenAI(cfg.OpenAI, cfg.Timeout)
	}
	if cfg.Perplexity.APIKey != "" {
		reg[models.ProviderPerplexity] = NewPerplexity(cfg.Perplexity, cfg.Timeout)
	}
	if cfg.Gemini.APIKey != "" {
		reg[models.ProviderGemini] = NewGemini(cfg.Gemini, cfg.Timeout)
	}
	if cfg.AIOverview.BaseURL != "" {
		reg[models.ProviderAIOverview] = NewAIOverview(cfg.AIOverview, cfg.Timeout)
	}

	if len(reg) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	return reg, nil
}

// Get returns the named provider or nil if it is not configured.
func (r Registry) Get(name string) models.AssistantProvider {
	return r[name]
}

// Names returns the configured provider names.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	return names
}
