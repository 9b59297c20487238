// Package llm defines the Provider interface for Large Language Model
// backends used as content generators.
//
// A provider wraps a remote or local model API (e.g., OpenAI GPT-4,
// Anthropic Claude, or a local Ollama instance) and exposes a uniform
// completion call so the generation pipeline never couples to a specific
// SDK. Implementors must be safe for concurrent use.
package llm

import "context"

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
// Counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation. Providers without a dedicated system slot prepend it
	// as a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation. The last message drives the
	// response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero uses the
	// provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider
	// default.
	MaxTokens int
}

// CompletionResponse is the model's full (non-streaming) answer.
type CompletionResponse struct {
	// Content is the generated text.
	Content string

	// FinishReason indicates why generation stopped ("stop", "length", ...).
	FinishReason string

	// Usage holds token accounting, when the backend reports it.
	Usage Usage
}

// Provider is a synchronous completion backend.
type Provider interface {
	// Name identifies the backing implementation (e.g. "openai", "anyllm").
	Name() string

	// Complete performs a full completion. It must respect ctx cancellation
	// and deadlines; the pipeline bounds every call with a caller-supplied
	// timeout.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
