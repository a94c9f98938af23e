// Package llm is the language model boundary used for session summaries and
// revisions.
//
// Providers are stateless: every call carries the whole chat log, and no
// conversation state survives between calls. Implementations must be safe
// for concurrent use.
package llm

import "context"

// Usage is the token accounting reported by a backend. Counts use the
// backend's own tokenizer, so they will not match [EstimateTokens].
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is one completion call. Messages must not be empty.
type CompletionRequest struct {
	Messages []Message

	// Temperature and MaxTokens keep the backend default when zero.
	Temperature float64
	MaxTokens   int
}

// CompletionResponse is the assistant reply to a CompletionRequest.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider produces completions from a chat log.
type Provider interface {
	// Complete blocks until the full reply arrives, the call fails or ctx
	// ends.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities reports the model limits. The value never changes for a
	// given Provider.
	Capabilities() ModelCapabilities
}
