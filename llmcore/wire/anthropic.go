package wire

import (
	"encoding/json"

	"github.com/paxoscn/llmdispatch/llmcore"
)

// anthropicDefaultMaxTokens is the max_tokens value this dispatch core
// sends when the caller didn't set one. Anthropic's API, unlike
// OpenAI's, rejects a request with max_tokens absent, so a default must
// always be supplied; SPEC_FULL §4.1 sets it to 1000, not the 4096 the
// teacher's Claude provider defaults to.
const anthropicDefaultMaxTokens = 1000

// AnthropicMessage is one message in an Anthropic-style request body.
// Content is always the single-text-block form; this dispatch core
// does not send multi-block tool_use/tool_result content, since
// tool-call semantics beyond the finish reason are out of scope.
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicRequest is the Anthropic-style chat completion request body.
type AnthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []AnthropicMessage `json:"messages"`
	System        string             `json:"system,omitempty"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

// BuildAnthropicRequest converts the uniform ChatRequest into an
// Anthropic-style wire request, applying §4.1's two conversion rules:
//
//  1. System-hoist: any system-role message is pulled out of the
//     messages array into the top-level system field (several are
//     concatenated in order, separated by a newline).
//  2. Tool-as-user rewrite: a tool-role message (the dispatch core's
//     only concession to tool-call results) is rewritten as a
//     user-role message, since Anthropic's simple single-text-block
//     form has no tool_result content type here.
func BuildAnthropicRequest(req llmcore.ChatRequest, model string, stream bool) AnthropicRequest {
	var system string
	msgs := make([]AnthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llmcore.RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case llmcore.RoleTool:
			msgs = append(msgs, AnthropicMessage{Role: "user", Content: m.Content})
		default:
			msgs = append(msgs, AnthropicMessage{Role: string(m.Role), Content: m.Content})
		}
	}

	maxTokens := anthropicDefaultMaxTokens
	if req.SamplingParams.MaxTokens != nil {
		maxTokens = *req.SamplingParams.MaxTokens
	}

	return AnthropicRequest{
		Model:         model,
		Messages:      msgs,
		System:        system,
		MaxTokens:     maxTokens,
		Temperature:   req.SamplingParams.Temperature,
		TopP:          req.SamplingParams.TopP,
		StopSequences: req.SamplingParams.StopSequences,
		Stream:        stream,
	}
}

// AnthropicContentBlock is one block of an Anthropic response's content
// array. This dispatch core only reads the text blocks.
type AnthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// AnthropicUsage is the Anthropic token usage shape: two separate
// counters, summed by this codec into the uniform ChatUsage.TotalTokens.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicResponse is the Anthropic-style non-streaming response body.
type AnthropicResponse struct {
	ID         string                   `json:"id"`
	Model      string                   `json:"model"`
	Content    []AnthropicContentBlock  `json:"content"`
	StopReason string                   `json:"stop_reason"`
	Usage      *AnthropicUsage          `json:"usage,omitempty"`
}

func mapAnthropicStopReason(s string) llmcore.FinishReason {
	switch s {
	case "max_tokens":
		return llmcore.FinishLength
	case "tool_use":
		return llmcore.FinishToolCalls
	case "stop_sequence", "end_turn":
		return llmcore.FinishStop
	default:
		return llmcore.FinishStop
	}
}

// DecodeAnthropicResponse converts an Anthropic-style response body
// into the uniform ChatResponse shape, concatenating every text block
// (Anthropic responses are not expected to carry more than one, but
// nothing in the wire format guarantees it).
func DecodeAnthropicResponse(body []byte, modelUsed string) (*llmcore.ChatResponse, error) {
	var ar AnthropicResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, llmcore.NewError(llmcore.KindProtocol, "failed to decode response body").WithCause(err)
	}

	resp := &llmcore.ChatResponse{ModelUsed: modelUsed}
	if ar.Model != "" {
		resp.ModelUsed = ar.Model
	}
	for _, b := range ar.Content {
		if b.Type == "text" {
			resp.Content += b.Text
		}
	}
	if resp.Content == "" {
		return nil, llmcore.NewError(llmcore.KindProtocol, "response has no text content")
	}
	resp.FinishReason = mapAnthropicStopReason(ar.StopReason)
	if ar.Usage != nil {
		resp.Usage = llmcore.ChatUsage{
			PromptTokens:     ar.Usage.InputTokens,
			CompletionTokens: ar.Usage.OutputTokens,
			TotalTokens:      ar.Usage.InputTokens + ar.Usage.OutputTokens,
		}
	}
	return resp, nil
}
