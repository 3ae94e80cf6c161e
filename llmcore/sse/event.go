// Package sse implements the SSE stream adapter described in SPEC_FULL
// §4.2: turning a raw byte stream into a uniform, lazy sequence of
// llmcore.ChatStreamChunk values, tolerant of partial event frames and
// of the handful of JSON shapes the supported providers emit.
//
// The parsing/termination rules here are grounded on the teacher's
// llm/providers/openaicompat.StreamSSE (buffered-reader event loop) and
// providers/anthropic.ClaudeProvider.Stream (event-type state machine),
// cross-checked against original_source/.../streaming.rs for the exact
// three-way shape dispatch and the buffered-stream flush triggers.
package sse

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/paxoscn/llmdispatch/llmcore"
)

const doneSentinel = "[DONE]"

// rawEvent is one parsed SSE frame: the concatenation of every `data: `
// line's payload within one blank-line-delimited event.
type rawEvent struct {
	data string
	done bool
}

// readEvents drains r line by line, reconstructing `\n\n`-delimited SSE
// events and sending one rawEvent per event (or one per [DONE]) on out.
// It stops at EOF or on read error; it does not close out, and does not
// close or otherwise touch r beyond reading from it.
//
// This is the low-level half of step 1 of §4.2's algorithm: buffering
// raw bytes into complete events. The shape-dispatch in step 3 lives in
// parseChunk, applied by Stream above this layer.
func readEvents(r io.Reader, out chan<- rawEvent) {
	reader := bufio.NewReader(r)
	var dataLines []string

	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]
		if payload == doneSentinel {
			out <- rawEvent{done: true}
			return
		}
		out <- rawEvent{data: payload}
	}

	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")

		switch {
		case trimmed == "":
			// Blank line: event boundary.
			flush()
		case strings.HasPrefix(trimmed, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(trimmed, "data:"), " "))
		case strings.HasPrefix(trimmed, ":"):
			// Comment/heartbeat line, ignored per §4.2 step 3's "skip"
			// branch.
		default:
			// Unrecognized line within an event (e.g. "event: foo");
			// ignored, we only care about data: per the input contract.
		}

		if err != nil {
			// Flush any trailing buffered event before terminating,
			// per §4.2 step 4.
			flush()
			return
		}
	}
}

// parseChunk JSON-decodes one event payload and dispatches by shape per
// §4.2 step 3. ok is false when the event should be silently skipped
// (unknown shape, matching the "comment / heartbeat / unknown" branch).
func parseChunk(payload string) (llmcore.ChatStreamChunk, bool) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &generic); err != nil {
		return llmcore.ChatStreamChunk{}, false
	}

	if raw, ok := generic["choices"]; ok {
		return parseChoicesShape(raw, generic)
	}
	if raw, ok := generic["type"]; ok {
		var typ string
		if err := json.Unmarshal(raw, &typ); err == nil {
			return parseAnthropicShape(typ, generic)
		}
	}
	if raw, ok := generic["content"]; ok {
		var content string
		if err := json.Unmarshal(raw, &content); err == nil {
			return llmcore.ChatStreamChunk{Content: content, HasContent: true}, true
		}
	}
	return llmcore.ChatStreamChunk{}, false
}

type openAIDelta struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
}

type openAIChoice struct {
	Delta        openAIDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func parseChoicesShape(raw json.RawMessage, generic map[string]json.RawMessage) (llmcore.ChatStreamChunk, bool) {
	var choices []openAIChoice
	if err := json.Unmarshal(raw, &choices); err != nil {
		return llmcore.ChatStreamChunk{}, false
	}

	var chunk llmcore.ChatStreamChunk
	if len(choices) > 0 {
		c := choices[0]
		if c.Delta.Content != "" {
			chunk.Content = c.Delta.Content
			chunk.HasContent = true
		}
		if c.Delta.ReasoningContent != "" {
			chunk.ReasoningContent = c.Delta.ReasoningContent
			chunk.HasReasoning = true
		}
		if c.FinishReason != nil {
			chunk.FinishReason = mapOpenAIFinishReason(*c.FinishReason)
			chunk.HasFinishReason = true
		}
	}

	// A provider may emit a final object with only usage and an empty
	// choices array; that must still be surfaced and still terminates
	// the stream (§4.2 step 3, §9's resolved open question).
	if raw, ok := generic["usage"]; ok {
		var u openAIUsage
		if err := json.Unmarshal(raw, &u); err == nil {
			chunk.Usage = llmcore.ChatUsage{
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
				TotalTokens:      u.TotalTokens,
			}
			chunk.HasUsage = true
		}
	}

	return chunk, true
}

func mapOpenAIFinishReason(s string) llmcore.FinishReason {
	switch s {
	case "stop":
		return llmcore.FinishStop
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

type anthropicDelta struct {
	Text string `json:"text"`
}

func parseAnthropicShape(typ string, generic map[string]json.RawMessage) (llmcore.ChatStreamChunk, bool) {
	switch typ {
	case "content_block_delta":
		raw, ok := generic["delta"]
		if !ok {
			return llmcore.ChatStreamChunk{}, false
		}
		var d anthropicDelta
		if err := json.Unmarshal(raw, &d); err != nil {
			return llmcore.ChatStreamChunk{}, false
		}
		return llmcore.ChatStreamChunk{Content: d.Text, HasContent: true}, true
	case "message_stop":
		return llmcore.ChatStreamChunk{FinishReason: llmcore.FinishStop, HasFinishReason: true}, true
	default:
		return llmcore.ChatStreamChunk{}, false
	}
}
