package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paxoscn/llmdispatch/llmcore"
)

// Scenario 6 from SPEC_FULL §8: a system message is hoisted out of the
// messages array into the top-level system field.
func TestBuildAnthropicRequest_SystemHoist(t *testing.T) {
	req := llmcore.ChatRequest{
		Messages: []llmcore.Message{
			{Role: llmcore.RoleSystem, Content: "be terse"},
			{Role: llmcore.RoleUser, Content: "hi"},
		},
	}
	out := BuildAnthropicRequest(req, "claude-3", false)
	assert.Equal(t, "be terse", out.System)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)
	assert.Equal(t, "hi", out.Messages[0].Content)
}

func TestBuildAnthropicRequest_ToolAsUserRewrite(t *testing.T) {
	req := llmcore.ChatRequest{
		Messages: []llmcore.Message{
			{Role: llmcore.RoleUser, Content: "hi"},
			{Role: llmcore.RoleTool, Content: "tool result"},
		},
	}
	out := BuildAnthropicRequest(req, "claude-3", false)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "user", out.Messages[1].Role)
	assert.Equal(t, "tool result", out.Messages[1].Content)
}

func TestBuildAnthropicRequest_DefaultMaxTokens(t *testing.T) {
	req := llmcore.ChatRequest{Messages: []llmcore.Message{{Role: llmcore.RoleUser, Content: "hi"}}}
	out := BuildAnthropicRequest(req, "claude-3", false)
	assert.Equal(t, 1000, out.MaxTokens)
}

func TestBuildAnthropicRequest_ExplicitMaxTokensOverrides(t *testing.T) {
	mt := 50
	req := llmcore.ChatRequest{
		Messages:       []llmcore.Message{{Role: llmcore.RoleUser, Content: "hi"}},
		SamplingParams: llmcore.SamplingParams{MaxTokens: &mt},
	}
	out := BuildAnthropicRequest(req, "claude-3", false)
	assert.Equal(t, 50, out.MaxTokens)
}

func TestDecodeOpenAIResponse(t *testing.T) {
	body := []byte(`{"model":"gpt-4","choices":[{"finish_reason":"stop","message":{"content":"hello"}}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`)
	resp, err := DecodeOpenAIResponse(body, "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, llmcore.FinishStop, resp.FinishReason)
	assert.Equal(t, 3, resp.Usage.TotalTokens)
}

func TestDecodeAnthropicResponse_SumsUsage(t *testing.T) {
	body := []byte(`{"model":"claude-3","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":4,"output_tokens":6}}`)
	resp, err := DecodeAnthropicResponse(body, "claude-3")
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
	assert.Equal(t, llmcore.FinishStop, resp.FinishReason)
}

func TestDecodeOpenAIResponse_NoChoicesIsProtocolError(t *testing.T) {
	body := []byte(`{"model":"gpt-4","choices":[]}`)
	_, err := DecodeOpenAIResponse(body, "gpt-4")
	require.Error(t, err)
	assert.Equal(t, llmcore.KindProtocol, llmcore.KindOf(err))
}

func TestDecodeOpenAIResponse_EmptyContentIsProtocolError(t *testing.T) {
	body := []byte(`{"model":"gpt-4","choices":[{"finish_reason":"stop","message":{"content":""}}]}`)
	_, err := DecodeOpenAIResponse(body, "gpt-4")
	require.Error(t, err)
	assert.Equal(t, llmcore.KindProtocol, llmcore.KindOf(err))
}

func TestDecodeAnthropicResponse_EmptyContentIsProtocolError(t *testing.T) {
	body := []byte(`{"model":"claude-3","content":[],"stop_reason":"end_turn"}`)
	_, err := DecodeAnthropicResponse(body, "claude-3")
	require.Error(t, err)
	assert.Equal(t, llmcore.KindProtocol, llmcore.KindOf(err))
}

func TestChooseModel_PrefersRequestModel(t *testing.T) {
	assert.Equal(t, "gpt-4o", ChooseModel(llmcore.ChatRequest{Model: "gpt-4o"}, "gpt-3.5"))
	assert.Equal(t, "gpt-3.5", ChooseModel(llmcore.ChatRequest{}, "gpt-3.5"))
}

func TestReadErrorMessage_FallsBackToRawBody(t *testing.T) {
	msg := ReadErrorMessage(strings.NewReader("not json"))
	assert.Equal(t, "not json", msg)
}
