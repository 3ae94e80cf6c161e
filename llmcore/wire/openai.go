// Package wire holds the provider-agnostic wire-format encode/decode
// helpers shared by the OpenAIStyle, AnthropicStyle, and
// LocalOpenAICompatible provider handles, per SPEC_FULL §4.1.
//
// Grounded on the teacher's llm/providers/common.go (OpenAICompat*
// types, MapHTTPError, ReadErrorMessage, ChooseModel) and on
// providers/anthropic/provider.go (claudeMessage/claudeRequest and the
// system-message-hoist/tool-as-user-message conversion). Error mapping
// here defers to llmcore.MapHTTPStatus rather than reimplementing it,
// since the dispatch core's own HTTP-status table (§4.1/§7) is more
// granular than the teacher's MapHTTPError.
package wire

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/paxoscn/llmdispatch/llmcore"
)

// OpenAIMessage is one message in an OpenAI-compatible chat request.
type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
}

// OpenAIRequest is the OpenAI-compatible chat completion request body,
// shared by OpenAIStyle and LocalOpenAICompatible handles.
type OpenAIRequest struct {
	Model            string          `json:"model"`
	Messages         []OpenAIMessage `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
}

// BuildOpenAIMessages converts the uniform message slice into the
// OpenAI-compatible wire shape. Unlike the Anthropic conversion, the
// system role passes through unchanged: OpenAI-style APIs accept a
// system message inline.
func BuildOpenAIMessages(msgs []llmcore.Message) []OpenAIMessage {
	out := make([]OpenAIMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, OpenAIMessage{
			Role:    string(m.Role),
			Content: m.Content,
			Name:    m.Name,
		})
	}
	return out
}

// BuildOpenAIRequest assembles the full request body for req targeting
// model, per §4.1's wire codec rules.
func BuildOpenAIRequest(req llmcore.ChatRequest, model string, stream bool) OpenAIRequest {
	sp := req.SamplingParams
	return OpenAIRequest{
		Model:            model,
		Messages:         BuildOpenAIMessages(req.Messages),
		Temperature:      sp.Temperature,
		TopP:             sp.TopP,
		MaxTokens:        sp.MaxTokens,
		FrequencyPenalty: sp.FrequencyPenalty,
		PresencePenalty:  sp.PresencePenalty,
		Stop:             sp.StopSequences,
		Stream:           stream,
	}
}

// OpenAIChoice is one choice of a non-streaming OpenAI-compatible
// response.
type OpenAIChoice struct {
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
	Message      struct {
		Content string `json:"content"`
	} `json:"message"`
}

// OpenAIUsage is the OpenAI-compatible token usage shape.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAIResponse is the OpenAI-compatible non-streaming response body.
type OpenAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   *OpenAIUsage   `json:"usage,omitempty"`
}

// mapFinishReason maps an OpenAI-compatible finish_reason string to the
// uniform FinishReason enum. Unrecognized values default to Stop, the
// same fallback the SSE adapter uses for the streaming case.
func mapFinishReason(s string) llmcore.FinishReason {
	switch s {
	case "length":
		return llmcore.FinishLength
	case "content_filter":
		return llmcore.FinishContentFilter
	case "tool_calls":
		return llmcore.FinishToolCalls
	default:
		return llmcore.FinishStop
	}
}

// DecodeOpenAIResponse converts an OpenAI-compatible response body into
// the uniform ChatResponse shape.
func DecodeOpenAIResponse(body []byte, modelUsed string) (*llmcore.ChatResponse, error) {
	var oa OpenAIResponse
	if err := json.Unmarshal(body, &oa); err != nil {
		return nil, llmcore.NewError(llmcore.KindProtocol, "failed to decode response body").WithCause(err)
	}
	resp := &llmcore.ChatResponse{ModelUsed: modelUsed}
	if oa.Model != "" {
		resp.ModelUsed = oa.Model
	}
	if len(oa.Choices) == 0 {
		return nil, llmcore.NewError(llmcore.KindProtocol, "response has no choices")
	}
	c := oa.Choices[0]
	if c.Message.Content == "" {
		return nil, llmcore.NewError(llmcore.KindProtocol, "response choice has empty content")
	}
	resp.Content = c.Message.Content
	resp.FinishReason = mapFinishReason(c.FinishReason)
	if oa.Usage != nil {
		resp.Usage = llmcore.ChatUsage{
			PromptTokens:     oa.Usage.PromptTokens,
			CompletionTokens: oa.Usage.CompletionTokens,
			TotalTokens:      oa.Usage.TotalTokens,
		}
	}
	return resp, nil
}

// ErrorEnvelope is the common {"error": {"message": ...}} shape used by
// both OpenAI-compatible and Anthropic error bodies.
type ErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ReadErrorMessage extracts a human-readable message from an error
// response body, falling back to the raw text if it isn't the expected
// envelope shape.
func ReadErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(r)
	if err != nil {
		return "failed to read error response body"
	}
	var env ErrorEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Error.Message != "" {
		if env.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", env.Error.Message, env.Error.Type)
		}
		return env.Error.Message
	}
	return string(data)
}

// ChooseModel implements §4.1's model-selection precedence: the
// request's explicit model name, then the handle's configured default.
func ChooseModel(req llmcore.ChatRequest, configuredModel string) string {
	if strings.TrimSpace(req.Model) != "" {
		return req.Model
	}
	return configuredModel
}
