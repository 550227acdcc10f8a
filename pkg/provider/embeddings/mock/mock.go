// Package mock is an in-memory embeddings.Provider for tests. It hands back
// canned vectors and records what was submitted, so archive and recall tests
// can run without a live embedding model.
package mock

import (
	"context"
	"sync"

	"github.com/kokorochat/kokoro/pkg/provider/embeddings"
)

// EmbedCall records one Embed invocation.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// EmbedBatchCall records one EmbedBatch invocation. Texts is a copy of the
// caller's slice.
type EmbedBatchCall struct {
	Ctx   context.Context
	Texts []string
}

// Provider is a configurable embeddings.Provider double. The zero value is
// usable; set the response fields before handing it to code under test.
// All methods are safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// EmbedFunc, when set, computes Embed's result per call and overrides
	// EmbedResult/EmbedErr. Handy for deriving distinct vectors per text.
	EmbedFunc func(text string) ([]float32, error)

	// EmbedResult and EmbedErr are returned by Embed when EmbedFunc is nil.
	EmbedResult []float32
	EmbedErr    error

	// EmbedBatchResult and EmbedBatchErr are returned by EmbedBatch. A nil
	// EmbedBatchResult yields one nil vector per input text.
	EmbedBatchResult [][]float32
	EmbedBatchErr    error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// Call records, in order.
	EmbedCalls          []EmbedCall
	EmbedBatchCalls     []EmbedBatchCall
	DimensionsCallCount int
	ModelIDCallCount    int
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed records the call and returns the configured result.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text)
	}
	return p.EmbedResult, p.EmbedErr
}

// EmbedBatch records the call and returns the configured result, defaulting
// to len(texts) nil vectors.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: cp})
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	return make([][]float32, len(texts)), nil
}

// Dimensions counts the call and returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DimensionsCallCount++
	return p.DimensionsValue
}

// ModelID counts the call and returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ModelIDCallCount++
	return p.ModelIDValue
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
	p.DimensionsCallCount = 0
	p.ModelIDCallCount = 0
}
