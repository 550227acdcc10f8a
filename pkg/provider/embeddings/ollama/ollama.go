// Package ollama embeds text through a local Ollama server's /api/embed
// endpoint. It is the zero-API-key option for running the engine entirely
// on-box with models such as nomic-embed-text, mxbai-embed-large, and
// all-minilm.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kokorochat/kokoro/pkg/provider/embeddings"
)

// DefaultBaseURL is where a locally running Ollama listens.
const DefaultBaseURL = "http://localhost:11434"

// dimensionsByModel maps recognised Ollama embedding models to their vector
// length. Tags like ":latest" are stripped before lookup.
var dimensionsByModel = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
}

var _ embeddings.Provider = (*Provider)(nil)

// Provider is an embeddings.Provider backed by an Ollama server. It is safe
// for concurrent use.
//
// The vector length comes from WithDimensions when given, otherwise from the
// recognised-model table, otherwise from a one-off embed issued lazily on the
// first Dimensions call.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client

	dimensions int
	detectOnce sync.Once
}

// Option configures a [Provider].
type Option func(*Provider)

// WithTimeout bounds each HTTP request. Zero or negative means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithDimensions fixes the embedding dimension up front so that no detection
// request is ever issued for an unrecognised model.
func WithDimensions(dims int) Option {
	return func(p *Provider) {
		p.dimensions = dims
	}
}

// New returns a Provider talking to the Ollama server at baseURL (empty means
// [DefaultBaseURL]). The model name is required.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}

	if p.dimensions == 0 {
		base, _, _ := strings.Cut(strings.ToLower(model), ":")
		p.dimensions = dimensionsByModel[base]
	}

	return p, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the vector for a single text. The text goes to Ollama
// verbatim; any model-specific prefix ("query: ", "passage: ") is the
// caller's responsibility.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("ollama embeddings: embed: empty response")
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request. result[i] corresponds to
// texts[i]. An empty input returns (nil, nil) without touching the network.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions reports the vector length this provider produces. For a model
// that is neither configured nor recognised, a single detection embed runs
// against the live server on first call and the result is cached; if that
// fails, 0 is returned.
func (p *Provider) Dimensions() int {
	if p.dimensions != 0 {
		return p.dimensions
	}
	p.detectOnce.Do(func() {
		vecs, err := p.embed(context.Background(), []string{"dimension detection"})
		if err == nil && len(vecs) > 0 {
			p.dimensions = len(vecs[0])
		}
	})
	return p.dimensions
}

// ModelID returns the configured Ollama model name.
func (p *Provider) ModelID() string {
	return p.model
}

func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return result.Embeddings, nil
}
