package openaistyle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paxoscn/llmdispatch/llmcore"
)

func testConfig(baseURL string) llmcore.ModelConfig {
	return llmcore.ModelConfig{
		ProviderKind: llmcore.KindOpenAIStyle,
		ModelName:    "gpt-4o-mini",
		Credentials:  llmcore.Credentials{APIKey: "sk-test", BaseURL: baseURL},
	}
}

func TestHandle_Chat_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"model":"gpt-4o-mini","choices":[{"finish_reason":"stop","message":{"content":"hi there"}}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`))
	}))
	defer srv.Close()

	h, err := New("openai", testConfig(srv.URL), nil)
	require.NoError(t, err)

	resp, err := h.Chat(context.Background(), llmcore.ChatRequest{
		Messages: []llmcore.Message{{Role: llmcore.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, llmcore.FinishStop, resp.FinishReason)
}

func TestHandle_Chat_MapsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	h, err := New("openai", testConfig(srv.URL), nil)
	require.NoError(t, err)

	_, err = h.Chat(context.Background(), llmcore.ChatRequest{
		Messages: []llmcore.Message{{Role: llmcore.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, llmcore.KindRateLimit, llmcore.KindOf(err))
	assert.True(t, llmcore.IsRetryable(err))
}

func TestHandle_ConstructionRejectsBadAPIKeyPrefix(t *testing.T) {
	cfg := testConfig("http://example.invalid")
	cfg.Credentials.APIKey = "not-a-valid-key"
	_, err := New("openai", cfg, nil)
	require.Error(t, err)
}

func TestHandle_StreamChat_DeliversChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n"))
		flusher.Flush()
		w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	h, err := New("openai", testConfig(srv.URL), nil)
	require.NoError(t, err)

	ch, err := h.StreamChat(context.Background(), llmcore.ChatRequest{
		Messages: []llmcore.Message{{Role: llmcore.RoleUser, Content: "hi"}},
		Stream:   true,
	})
	require.NoError(t, err)

	var chunks []llmcore.ChatStreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 2)
	assert.Equal(t, "hi", chunks[0].Content)
	assert.True(t, chunks[1].HasFinishReason)
}
