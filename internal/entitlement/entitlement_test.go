package entitlement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brandscope/brandscope/internal/entitlement"
	"github.com/brandscope/brandscope/pkg/models"
)

func TestProvidersByTier(t *testing.T) {
	assert.Equal(t, []string{models.ProviderOpenAI}, entitlement.Providers(entitlement.TierFree))
	assert.Contains(t, entitlement.Providers(entitlement.TierStarter), models.ProviderPerplexity)
	assert.Contains(t, entitlement.Providers(entitlement.TierGrowth), models.ProviderGemini)
	assert.Contains(t, entitlement.Providers(entitlement.TierScale), models.ProviderAIOverview)
}

func TestUnknownTierFallsBackToFree(t *testing.T) {
	assert.Equal(t, entitlement.Providers(entitlement.TierFree), entitlement.Providers("enterprise-legacy"))
	assert.Equal(t, entitlement.PromptLimit(entitlement.TierFree), entitlement.PromptLimit(""))
}

func TestPromptLimitsIncreaseWithTier(t *testing.T) {
	free := entitlement.PromptLimit(entitlement.TierFree)
	starter := entitlement.PromptLimit(entitlement.TierStarter)
	growth := entitlement.PromptLimit(entitlement.TierGrowth)
	scale := entitlement.PromptLimit(entitlement.TierScale)

	assert.Less(t, free, starter)
	assert.Less(t, starter, growth)
	assert.Less(t, growth, scale)
}

func TestProvidersReturnsCopy(t *testing.T) {
	provs := entitlement.Providers(entitlement.TierFree)
	provs[0] = "mutated"
	assert.Equal(t, []string{models.ProviderOpenAI}, entitlement.Providers(entitlement.TierFree))
}
