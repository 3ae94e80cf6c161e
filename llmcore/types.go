// Package llmcore defines the provider-agnostic value types and error
// taxonomy shared by every other package under llmcore: the wire codec,
// the SSE stream adapter, the provider handles, and the dispatcher all
// build on these shapes rather than inventing their own.
package llmcore

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Role identifies the speaker of a ChatMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType distinguishes the kinds of ContentPart a message may carry.
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// ContentPart is one piece of a (possibly multimodal) message body.
type ContentPart struct {
	Type   PartType
	Text   string
	URL    string
	Detail string
}

// Message is one turn of a conversation. Content is either a plain
// string (Parts empty) or an ordered sequence of Parts; callers set
// exactly one of the two.
type Message struct {
	Role      Role
	Content   string
	Parts     []ContentPart
	Name      string
	Timestamp time.Time
	Metadata  map[string]string
}

const maxTextPartLen = 100_000

// Validate enforces §3's ChatMessage invariants: text parts at most
// 100,000 characters, image URLs non-empty.
func (m Message) Validate() *Error {
	if utf8.RuneCountInString(m.Content) > maxTextPartLen {
		return NewError(KindValidation, "message content exceeds maximum length")
	}
	if strings.TrimSpace(m.Content) == "" && len(m.Parts) == 0 {
		return NewError(KindValidation, "message has no content")
	}
	for _, p := range m.Parts {
		switch p.Type {
		case PartText:
			if utf8.RuneCountInString(p.Text) > maxTextPartLen {
				return NewError(KindValidation, "text part exceeds maximum length")
			}
		case PartImageURL:
			if strings.TrimSpace(p.URL) == "" {
				return NewError(KindValidation, "image part has empty url")
			}
		}
	}
	return nil
}

// ProviderKind is the closed set of wire dialects the dispatch core
// speaks. It is deliberately not extensible at runtime: adding a fourth
// kind means adding a case everywhere this type is switched on, starting
// with provider construction (see SPEC_FULL §9).
type ProviderKind string

const (
	KindOpenAIStyle           ProviderKind = "openai_style"
	KindAnthropicStyle        ProviderKind = "anthropic_style"
	KindLocalOpenAICompatible ProviderKind = "local_openai_compatible"
)

// SamplingParams carries the caller-tunable generation knobs, shared by
// every provider kind (not every field applies to every kind; unused
// fields are simply omitted from the encoded request).
type SamplingParams struct {
	Temperature      *float64
	TopP             *float64
	MaxTokens        *int
	FrequencyPenalty *float64
	PresencePenalty  *float64
	StopSequences    []string
	Custom           map[string]any
}

// Validate enforces §3's sampling_params ranges.
func (s SamplingParams) Validate() *Error {
	if s.Temperature != nil && (*s.Temperature < 0.0 || *s.Temperature > 2.0) {
		return NewError(KindValidation, "temperature must be in [0.0, 2.0]")
	}
	if s.TopP != nil && (*s.TopP < 0.0 || *s.TopP > 1.0) {
		return NewError(KindValidation, "top_p must be in [0.0, 1.0]")
	}
	if s.MaxTokens != nil && *s.MaxTokens <= 0 {
		return NewError(KindValidation, "max_tokens must be > 0")
	}
	return nil
}

// Credentials carries the secret and per-tenant wiring needed to reach a
// provider: API key, base URL override, organization tag, and any extra
// headers the provider's account requires.
type Credentials struct {
	APIKey       string
	BaseURL      string
	Organization string
	ExtraHeaders map[string]string
}

// apiKeyPrefixes enforces §3's per-kind API-key prefix constraint. An
// empty key is always accepted at construction time (auth failure, if
// any, surfaces on first call per the boundary-behavior table in §8).
var apiKeyPrefixes = map[ProviderKind]string{
	KindOpenAIStyle:    "sk-",
	KindAnthropicStyle: "sk-ant-",
}

// ModelConfig is a value describing one callable model: provider kind,
// model name, sampling parameters, and credentials. It is immutable for
// the duration of a single dispatch.
type ModelConfig struct {
	ID             string
	ProviderKind   ProviderKind
	ModelName      string
	SamplingParams SamplingParams
	Credentials    Credentials
}

// Validate enforces §3's ModelConfig invariants.
func (c ModelConfig) Validate() *Error {
	if strings.TrimSpace(c.ModelName) == "" {
		return NewError(KindValidation, "model_name must not be empty")
	}
	if err := c.SamplingParams.Validate(); err != nil {
		return err
	}
	if prefix, ok := apiKeyPrefixes[c.ProviderKind]; ok && c.Credentials.APIKey != "" {
		if !strings.HasPrefix(c.Credentials.APIKey, prefix) {
			return NewError(KindValidation, "api key does not match required prefix for provider kind")
		}
	}
	if u := c.Credentials.BaseURL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return NewError(KindValidation, "base_url must start with http:// or https://")
	}
	return nil
}

// FinishReason is the uniform reason a non-streaming response or the
// terminal stream chunk completed.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishError         FinishReason = "error"
)

// ChatUsage is the uniform token-accounting shape, composed differently
// per provider (OpenAI: prompt_tokens+completion_tokens already summed
// server-side; Anthropic: input_tokens+output_tokens summed by us).
type ChatUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatRequest is the uniform request shape handed to a provider handle.
// TenantTag is opaque to the core; it is carried through only for
// telemetry (traces, metrics labels), never interpreted.
type ChatRequest struct {
	Messages       []Message
	Model          string
	SamplingParams SamplingParams
	Stream         bool
	TenantTag      string
}

// Validate enforces the request-level invariants from §3/§8: non-empty
// messages, each message individually valid, and valid sampling params.
func (r ChatRequest) Validate() *Error {
	if len(r.Messages) == 0 {
		return NewError(KindValidation, "messages must not be empty")
	}
	for _, m := range r.Messages {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return r.SamplingParams.Validate()
}

// ChatResponse is the uniform non-streaming response shape.
type ChatResponse struct {
	Content      string
	ModelUsed    string
	Usage        ChatUsage
	FinishReason FinishReason
	Metadata     map[string]string
}

// ChatStreamChunk is one unit of a streaming response. Absence of
// Content with a present FinishReason marks end-of-stream (§3).
type ChatStreamChunk struct {
	Content          string
	HasContent       bool
	ReasoningContent string
	HasReasoning     bool
	FinishReason     FinishReason
	HasFinishReason  bool
	Usage            ChatUsage
	HasUsage         bool
	Err              error
}

// IsTerminal reports whether this chunk is the one that ends a stream
// per §4.2's output contract: it carries a finish reason or a usage
// payload.
func (c ChatStreamChunk) IsTerminal() bool {
	return c.HasFinishReason || c.HasUsage
}
