// Package agentgw implements the Agent Gateway (SPEC_FULL.md §4.5): model
// alias resolution, budget classification, ledger-backed reservation,
// ES256 JWT minting with key rotation, and a resilient streaming proxy to
// the upstream LLM provider adapter.
package agentgw

// AccountingMode classifies who pays for an invocation (§4.5 step 3).
type AccountingMode string

const (
	PlatformBudget AccountingMode = "platform_budget"
	BYOKNoBudget   AccountingMode = "byok_no_budget"
)

// ModelAlias is one entry in the closed alias->provider registry; aliases
// are the single source of truth for provider/model/rate resolution.
type ModelAlias struct {
	Alias            string
	Provider         string
	ProviderModelID  string
	InputMicroPerTok int64
	OutputMicroPerTok int64
	Mode             AccountingMode
}

// Registry resolves model aliases. It is a closed map populated at startup,
// matching §9's "polymorphic handler registry" redesign note applied here
// to model routing instead of event handlers.
type Registry struct {
	aliases map[string]ModelAlias
}

// NewRegistry builds a registry from a fixed alias list.
func NewRegistry(aliases []ModelAlias) *Registry {
	m := make(map[string]ModelAlias, len(aliases))
	for _, a := range aliases {
		m[a.Alias] = a
	}
	return &Registry{aliases: m}
}

// Resolve looks up an alias, returning ok=false for unknown aliases.
func (r *Registry) Resolve(alias string) (ModelAlias, bool) {
	a, ok := r.aliases[alias]
	return a, ok
}

// CostMicro computes actual_cost_micro from token counts and the alias's
// registry rates (§4.5 step 7).
func CostMicro(alias ModelAlias, inputTokens, outputTokens int64) int64 {
	return inputTokens*alias.InputMicroPerTok + outputTokens*alias.OutputMicroPerTok
}
