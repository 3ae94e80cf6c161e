// Package localcompat implements the LocalOpenAICompatible provider
// handle described in SPEC_FULL §4.3: a self-hosted, OpenAI-shaped
// endpoint (llama.cpp, Ollama, vLLM, text-generation-webui, ...) whose
// exact surface varies enough that model listing and health probing
// both try a sequence of candidate paths rather than assuming one.
//
// Grounded on the teacher's llm/providers/common.go
// ListModelsOpenAICompat for the multi-endpoint GET+decode shape, and
// on the original Rust LocalLLMProvider (original_source) for the
// ordered endpoint-candidate lists and the "omit Authorization when no
// real key is configured" rule.
package localcompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/paxoscn/llmdispatch/internal/tlsutil"
	"github.com/paxoscn/llmdispatch/llmcore"
	"github.com/paxoscn/llmdispatch/llmcore/sse"
	"github.com/paxoscn/llmdispatch/llmcore/wire"
)

// modelsEndpoints is tried in order; the first endpoint that responds
// 200 with a non-empty model list wins. /api/tags is Ollama's shape.
var modelsEndpoints = []string{"/v1/models", "/models", "/api/tags"}

// healthEndpoints is tried in order before falling back to a models
// listing as a last-resort liveness check.
var healthEndpoints = []string{"/health", "/v1/health", "/api/version"}

// defaultModels is returned by ListModels when every candidate
// endpoint fails, so a local deployment with no models API at all
// still has something to dispatch against.
var defaultModels = []llmcore.ModelInfo{{ID: "local-model", Object: "model"}}

// Handle is the LocalOpenAICompatible provider.
type Handle struct {
	name   string
	cfg    llmcore.ModelConfig
	client *http.Client
	logger *zap.Logger
}

// New builds a ready-to-call Handle. Unlike the hosted kinds, the
// local-compatible handle has no required API key prefix: a self-hosted
// endpoint often runs with no auth at all.
func New(name string, cfg llmcore.ModelConfig, logger *zap.Logger) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := llmcore.DefaultTimeout(llmcore.KindLocalOpenAICompatible)
	return &Handle{
		name:   name,
		cfg:    cfg,
		client: tlsutil.ClientForHandle(timeout, 20),
		logger: logger,
	}, nil
}

func (h *Handle) Name() string               { return h.name }
func (h *Handle) Kind() llmcore.ProviderKind { return llmcore.KindLocalOpenAICompatible }

func (h *Handle) baseURL() string {
	if h.cfg.Credentials.BaseURL != "" {
		return strings.TrimRight(h.cfg.Credentials.BaseURL, "/")
	}
	return "http://localhost:8080"
}

func (h *Handle) endpoint(path string) string {
	return fmt.Sprintf("%s%s", h.baseURL(), path)
}

// buildHeaders omits Authorization entirely when no real key is
// configured, since many local runtimes reject an empty or placeholder
// Bearer token outright rather than ignoring it.
func (h *Handle) buildHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	key := strings.TrimSpace(h.cfg.Credentials.APIKey)
	if key != "" && key != "local" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	for k, v := range h.cfg.Credentials.ExtraHeaders {
		req.Header.Set(k, v)
	}
}

func (h *Handle) Chat(ctx context.Context, req llmcore.ChatRequest) (*llmcore.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	model := wire.ChooseModel(req, h.cfg.ModelName)
	body := wire.BuildOpenAIRequest(req, model, false)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, llmcore.NewError(llmcore.KindProtocol, "failed to encode request").WithCause(err).WithProvider(h.name)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint("/v1/chat/completions"), bytes.NewReader(payload))
	if err != nil {
		return nil, llmcore.NewError(llmcore.KindNetwork, "failed to build request").WithCause(err).WithProvider(h.name)
	}
	h.buildHeaders(httpReq)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(err, h.name)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := wire.ReadErrorMessage(resp.Body)
		return nil, llmcore.MapHTTPStatus(resp.StatusCode, msg, h.name)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llmcore.NewError(llmcore.KindNetwork, "failed to read response body").WithCause(err).WithProvider(h.name)
	}
	return wire.DecodeOpenAIResponse(respBody, model)
}

func (h *Handle) StreamChat(ctx context.Context, req llmcore.ChatRequest) (<-chan llmcore.ChatStreamChunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	model := wire.ChooseModel(req, h.cfg.ModelName)
	body := wire.BuildOpenAIRequest(req, model, true)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, llmcore.NewError(llmcore.KindProtocol, "failed to encode request").WithCause(err).WithProvider(h.name)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint("/v1/chat/completions"), bytes.NewReader(payload))
	if err != nil {
		return nil, llmcore.NewError(llmcore.KindNetwork, "failed to build request").WithCause(err).WithProvider(h.name)
	}
	h.buildHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(err, h.name)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := wire.ReadErrorMessage(resp.Body)
		return nil, llmcore.MapHTTPStatus(resp.StatusCode, msg, h.name)
	}

	return sse.Stream(ctx, resp.Body), nil
}

func (h *Handle) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := struct {
		Model string `json:"model"`
		Input string `json:"input"`
	}{Model: h.cfg.ModelName, Input: text}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, llmcore.NewError(llmcore.KindProtocol, "failed to encode embedding request").WithCause(err).WithProvider(h.name)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint("/v1/embeddings"), bytes.NewReader(payload))
	if err != nil {
		return nil, llmcore.NewError(llmcore.KindNetwork, "failed to build request").WithCause(err).WithProvider(h.name)
	}
	h.buildHeaders(httpReq)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(err, h.name)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := wire.ReadErrorMessage(resp.Body)
		return nil, llmcore.MapHTTPStatus(resp.StatusCode, msg, h.name)
	}

	var decoded struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, llmcore.NewError(llmcore.KindProtocol, "failed to decode embedding response").WithCause(err).WithProvider(h.name)
	}
	if len(decoded.Data) == 0 {
		return nil, llmcore.NewError(llmcore.KindProtocol, "embedding response carried no vectors").WithProvider(h.name)
	}
	return decoded.Data[0].Embedding, nil
}

// ListModels tries each of modelsEndpoints in order, returning the
// first one that yields a non-empty list. If every endpoint fails or
// returns empty, it falls back to defaultModels rather than failing
// the call outright, per §4.3's edge-case table.
func (h *Handle) ListModels(ctx context.Context) ([]llmcore.ModelInfo, error) {
	for _, path := range modelsEndpoints {
		models, ok := h.tryListModels(ctx, path)
		if ok && len(models) > 0 {
			return models, nil
		}
	}
	return defaultModels, nil
}

func (h *Handle) tryListModels(ctx context.Context, path string) ([]llmcore.ModelInfo, bool) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint(path), nil)
	if err != nil {
		return nil, false
	}
	h.buildHeaders(httpReq)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, false
	}

	// Ollama's /api/tags answers {"models":[...]}; the OpenAI-shaped
	// endpoints answer {"data":[...]}. Decode both keys, since only one
	// will ever be populated for a given endpoint.
	var decoded struct {
		Data   []llmcore.ModelInfo `json:"data"`
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, false
	}
	if len(decoded.Data) > 0 {
		return decoded.Data, true
	}
	if len(decoded.Models) > 0 {
		out := make([]llmcore.ModelInfo, 0, len(decoded.Models))
		for _, m := range decoded.Models {
			out = append(out, llmcore.ModelInfo{ID: m.Name, Object: "model"})
		}
		return out, true
	}
	return nil, false
}

// Probe tries each of healthEndpoints in order, falling back to a
// model listing if none answer, per §4.3's probe edge case.
func (h *Handle) Probe(ctx context.Context) llmcore.ProbeResult {
	start := time.Now()
	for _, path := range healthEndpoints {
		if h.tryHealth(ctx, path) {
			return llmcore.ProbeResult{Ok: true, LatencyMS: time.Since(start).Milliseconds()}
		}
	}

	models, err := h.ListModels(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return llmcore.ProbeResult{Ok: false, LatencyMS: latency, Reason: err.Error()}
	}
	return llmcore.ProbeResult{Ok: true, LatencyMS: latency, Models: models}
}

func (h *Handle) tryHealth(ctx context.Context, path string) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint(path), nil)
	if err != nil {
		return false
	}
	h.buildHeaders(httpReq)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

// classifyTransportErr wraps a round-trip failure (DNS, connect, or a
// context cancellation/deadline surfaced by the http.Client itself). A
// deadline exceeded while waiting on the round trip is the per-request
// timeout firing (§5) and is classified as Timeout, not Network, so it
// gets its own retry/health accounting.
func classifyTransportErr(err error, provider string) *llmcore.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmcore.NewError(llmcore.KindTimeout, "request timed out").WithCause(err).WithProvider(provider)
	}
	return llmcore.NewError(llmcore.KindNetwork, "request failed").WithCause(err).WithProvider(provider)
}
