// Package openai embeds text through the OpenAI embeddings API. The engine
// uses these vectors to index archived memories for later recall.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/kokorochat/kokoro/pkg/provider/embeddings"
)

// DefaultModel is used when no model is configured.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// dimensionsByModel maps OpenAI embedding models to their vector length.
// Unknown models fall back to fallbackDimensions.
var dimensionsByModel = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

const fallbackDimensions = 1536

var _ embeddings.Provider = (*Provider)(nil)

// Provider is an embeddings.Provider backed by the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// Option configures a [Provider].
type Option func(*Provider) []option.RequestOption

// WithBaseURL points the client at a different endpoint, for example an
// OpenAI-compatible gateway.
func WithBaseURL(url string) Option {
	return func(*Provider) []option.RequestOption {
		return []option.RequestOption{option.WithBaseURL(url)}
	}
}

// WithOrganization sets the OpenAI organization ID on every request.
func WithOrganization(org string) Option {
	return func(*Provider) []option.RequestOption {
		return []option.RequestOption{option.WithOrganization(org)}
	}
}

// WithTimeout bounds each embeddings request.
func WithTimeout(d time.Duration) Option {
	return func(*Provider) []option.RequestOption {
		return []option.RequestOption{option.WithHTTPClient(&http.Client{Timeout: d})}
	}
}

// New returns a Provider authenticated with apiKey. An empty model selects
// [DefaultModel].
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	p := &Provider{model: model}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		reqOpts = append(reqOpts, o(p)...)
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// Embed returns the vector for a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: p.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	return narrow(resp.Data[0].Embedding), nil
}

// EmbedBatch embeds texts in one request. result[i] corresponds to texts[i];
// the API reports positions explicitly, so the response is re-ordered by its
// index field rather than trusted to arrive in order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: p.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed batch: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	result := make([][]float32, len(texts))
	for _, e := range resp.Data {
		if int(e.Index) >= len(texts) {
			return nil, fmt.Errorf("openai embeddings: unexpected index %d", e.Index)
		}
		result[e.Index] = narrow(e.Embedding)
	}
	return result, nil
}

// Dimensions reports the vector length for the configured model.
func (p *Provider) Dimensions() int {
	if d, ok := dimensionsByModel[p.model]; ok {
		return d
	}
	return fallbackDimensions
}

// ModelID returns the configured model name.
func (p *Provider) ModelID() string {
	return p.model
}

// narrow converts the API's float64 vectors to the engine's float32 storage
// format.
func narrow(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
