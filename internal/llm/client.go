package llm

import "context"

// Provider is the interface every LLM backend (Anthropic, Gemini, ...)
// implements. A Gateway holds up to three Provider handles — primary,
// fallback, summarizer — and never exposes wire-format details beyond this
// contract.
type Provider interface {
	// Name identifies the provider for logging and stats.
	Name() string

	// IsAvailable reports whether credentials are configured. It does not
	// imply the remote service is reachable.
	IsAvailable() bool

	// Complete sends a non-streaming completion request.
	Complete(ctx context.Context, req Request) (Response, error)

	// Stream sends a completion request, invoking callback with incremental
	// events as they arrive, and returns the fully accumulated Response.
	// If the provider has no native streaming transport, it may synthesize
	// callback events by chunking the completed response.
	Stream(ctx context.Context, req Request, callback StreamCallback) (Response, error)
}
