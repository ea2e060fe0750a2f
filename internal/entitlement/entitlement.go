// Package entitlement maps subscription tiers to the providers and prompt
// counts an organization may use. Consulted at fan-out time only; nothing
// here is persisted per job.
package entitlement

import "github.com/brandscope/brandscope/pkg/models"

// Known plan tiers.
const (
	TierFree    = "free"
	TierStarter = "starter"
	TierGrowth  = "growth"
	TierScale   = "scale"
)

type plan struct {
	providers   []string
	promptLimit int
}

var plans = map[string]plan{
	TierFree: {
		providers:   []string{models.ProviderOpenAI},
		promptLimit: 5,
	},
	TierStarter: {
		providers:   []string{models.ProviderOpenAI, models.ProviderPerplexity},
		promptLimit: 25,
	},
	TierGrowth: {
		providers:   []string{models.ProviderOpenAI, models.ProviderPerplexity, models.ProviderGemini},
		promptLimit: 100,
	},
	TierScale: {
		providers: []string{
			models.ProviderOpenAI, models.ProviderPerplexity,
			models.ProviderGemini, models.ProviderAIOverview,
		},
		promptLimit: 250,
	},
}

// Providers returns the providers a tier may query. Unknown tiers fall back
// to the free plan.
func Providers(tier string) []string {
	p, ok := plans[tier]
	if !ok {
		p = plans[TierFree]
	}
	out := make([]string, len(p.providers))
	copy(out, p.providers)
	return out
}

// PromptLimit returns how many prompts a tier may fan out per job.
func PromptLimit(tier string) int {
	p, ok := plans[tier]
	if !ok {
		p = plans[TierFree]
	}
	return p.promptLimit
}
