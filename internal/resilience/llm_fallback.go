package resilience

import (
	"context"

	"github.com/kokorochat/kokoro/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] across a tier of completion backends.
// The pipeline talks to it as a single provider; failover, per-tier retries,
// and breaker bookkeeping happen underneath.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// completion backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional completion backend, tried after the
// tiers added before it.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Ready reports whether any tier can currently accept a completion call.
// The ops readiness endpoint uses it as the LLM health signal.
func (f *LLMFallback) Ready() error {
	return f.group.Ready()
}

// BreakerStates reports each tier's breaker state keyed by provider name.
func (f *LLMFallback) BreakerStates() map[string]State {
	return f.group.States()
}

// Complete generates a completion via the first tier that answers.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens delegates to the first tier that answers.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(context.Background(), f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities returns the primary tier's capabilities. Capabilities are
// static metadata and do not participate in failover.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	if len(f.group.tiers) > 0 {
		return f.group.tiers[0].value.Capabilities()
	}
	return llm.ModelCapabilities{}
}
