package resilience

import (
	"context"

	"github.com/kokorochat/kokoro/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] across a tier of
// embedding backends. The memory archiver talks to it as a single provider.
//
// Every tier should produce vectors of the same dimensionality; mixing vector
// spaces in one archive corrupts similarity search.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred embedding backend.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional embedding backend, tried after the
// tiers added before it.
func (f *EmbeddingsFallback) AddFallback(name string, provider embeddings.Provider) {
	f.group.AddFallback(name, provider)
}

// Ready reports whether any tier can currently accept an embedding call.
func (f *EmbeddingsFallback) Ready() error {
	return f.group.Ready()
}

// Embed computes the embedding via the first tier that answers.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch computes embeddings via the first tier that answers.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the primary tier's vector dimensionality. Static
// metadata; it does not participate in failover.
func (f *EmbeddingsFallback) Dimensions() int {
	if len(f.group.tiers) > 0 {
		return f.group.tiers[0].value.Dimensions()
	}
	return 0
}

// ModelID returns the primary tier's model identifier.
func (f *EmbeddingsFallback) ModelID() string {
	if len(f.group.tiers) > 0 {
		return f.group.tiers[0].value.ModelID()
	}
	return ""
}
