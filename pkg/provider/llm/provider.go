// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o, an
// Anthropic model, or a local Ollama instance) and exposes a uniform
// interface for the conversation pipeline to request completions, count
// tokens, and inspect model capabilities without coupling to any specific SDK.
//
// The engine treats the model as an opaque text-in/text-out collaborator:
// requests carry a system prompt plus bounded conversation history, and
// responses are reduced to reply text and token usage.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Provided as a
	// convenience; some providers return it directly.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history. Providers without a dedicated system prompt
	// mechanism prepend it as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one
	// completion.
	MaxOutputTokens int
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must propagate context cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or if ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens the given message list would
	// consume in the model's context window, used to bound the conversation
	// history sent per turn. The result need not be exact but should not
	// undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata describing the underlying model.
	// The result is assumed to be constant for the lifetime of the Provider
	// instance.
	Capabilities() ModelCapabilities
}
