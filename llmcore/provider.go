package llmcore

import (
	"context"
	"time"
)

// ModelInfo is one entry of a provider's model listing.
type ModelInfo struct {
	ID      string
	Object  string
	Created int64
	OwnedBy string
}

// ProbeResult is the outcome of a connectivity probe. Probe never
// returns an error per §4.3: a failed probe is reported as Ok=false
// with Reason set, so the periodic prober (§4.8) always has something
// to record.
type ProbeResult struct {
	Ok        bool
	LatencyMS int64
	Models    []ModelInfo
	Reason    string
}

// Provider is the capability set every provider handle exposes,
// regardless of kind. Construction (in each provider's own package)
// validates the API key prefix and base-URL scheme per §4.3; Provider
// itself assumes a already-constructed, ready-to-call handle.
type Provider interface {
	// Name returns the registry name this handle was registered under.
	Name() string
	// Kind returns the provider_kind this handle speaks.
	Kind() ProviderKind
	// Chat performs one non-streaming chat completion.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// StreamChat performs one streaming chat completion. The returned
	// channel is closed when the stream ends (error or normal
	// termination); a stream-level error, if any, is delivered as the
	// final chunk's Err field rather than as a second return value,
	// since by the time of failure the channel may already have
	// delivered partial chunks to the caller.
	StreamChat(ctx context.Context, req ChatRequest) (<-chan ChatStreamChunk, error)
	// Embed generates an embedding vector for text. AnthropicStyle
	// handles always fail this with KindUnsupportedOp (§4.3).
	Embed(ctx context.Context, text string) ([]float32, error)
	// ListModels returns this provider's available models.
	ListModels(ctx context.Context) ([]ModelInfo, error)
	// Probe performs a lightweight connectivity check. Never returns a
	// non-nil error; failures are reported via ProbeResult.Ok.
	Probe(ctx context.Context) ProbeResult
}

// DefaultTimeout returns the §4.3/§5 default per-request timeout for a
// provider kind: 30s for the REST providers, 60s for local-compatible
// endpoints (which may be running on unaccelerated hardware).
func DefaultTimeout(kind ProviderKind) time.Duration {
	if kind == KindLocalOpenAICompatible {
		return 60 * time.Second
	}
	return 30 * time.Second
}
