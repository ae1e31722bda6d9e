package agentgw

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryResolveKnownAndUnknownAlias(t *testing.T) {
	reg := NewRegistry([]ModelAlias{
		{Alias: "fast", Provider: "openai", ProviderModelID: "gpt-4o-mini", InputMicroPerTok: 150, OutputMicroPerTok: 600, Mode: PlatformBudget},
	})

	alias, ok := reg.Resolve("fast")
	assert.True(t, ok)
	assert.Equal(t, "openai", alias.Provider)

	_, ok = reg.Resolve("nonexistent")
	assert.False(t, ok)
}

func TestCostMicroComputesFromRegistryRates(t *testing.T) {
	alias := ModelAlias{InputMicroPerTok: 150, OutputMicroPerTok: 600}
	assert.Equal(t, int64(150*100+600*50), CostMicro(alias, 100, 50))
}
