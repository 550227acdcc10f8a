// Package embeddings abstracts text-embedding backends behind a single
// Provider interface.
//
// The engine embeds archived memories and recall queries into dense float32
// vectors so that a character's long-term memory can be searched by meaning,
// not just by keyword. Backends range from hosted APIs (OpenAI
// text-embedding-3) to local servers (Ollama with nomic-embed-text).
package embeddings

import "context"

// Provider maps text to dense vectors. Every vector from one Provider shares
// the dimensionality reported by Dimensions; vectors from different providers
// or models live in different spaces and must not be compared against each
// other.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the vector for a single text, of length Dimensions().
	// Text passes through verbatim; model-specific prefixes such as
	// "query: " are the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one backend call. The result has the same
	// length and order as texts. On error the whole result is nil; there
	// are no partial results.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector length this provider produces.
	Dimensions() int

	// ModelID names the underlying model, e.g. "text-embedding-3-small".
	// Snapshots record it so a restored archive is only searched with
	// vectors from the same model.
	ModelID() string
}
