// Package anthropicstyle implements the AnthropicStyle provider handle
// described in SPEC_FULL §4.3: x-api-key auth, anthropic-version
// header, system-hoisted request shape, content-block response shape.
//
// Grounded on the teacher's providers/anthropic (claude) provider for
// the header-building and handle-construction idiom; the request/
// response conversion itself lives in llmcore/wire, shared with the
// dispatch core's tests.
package anthropicstyle

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

const anthropicVersion = "2023-06-01"

// Handle is the AnthropicStyle provider.
type Handle struct {
	name   string
	cfg    llmcore.ModelConfig
	client *http.Client
	logger *zap.Logger
}

// New validates cfg and builds a ready-to-call Handle.
func New(name string, cfg llmcore.ModelConfig, logger *zap.Logger) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := llmcore.DefaultTimeout(llmcore.KindAnthropicStyle)
	return &Handle{
		name:   name,
		cfg:    cfg,
		client: tlsutil.ClientForHandle(timeout, 20),
		logger: logger,
	}, nil
}

func (h *Handle) Name() string               { return h.name }
func (h *Handle) Kind() llmcore.ProviderKind { return llmcore.KindAnthropicStyle }

func (h *Handle) baseURL() string {
	if h.cfg.Credentials.BaseURL != "" {
		return strings.TrimRight(h.cfg.Credentials.BaseURL, "/")
	}
	return "https://api.anthropic.com"
}

func (h *Handle) endpoint(path string) string {
	return fmt.Sprintf("%s%s", h.baseURL(), path)
}

// buildHeaders sets Anthropic's distinctive auth scheme: x-api-key
// rather than Authorization, plus the required anthropic-version pin.
func (h *Handle) buildHeaders(req *http.Request) {
	req.Header.Set("x-api-key", h.cfg.Credentials.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.cfg.Credentials.ExtraHeaders {
		req.Header.Set(k, v)
	}
}

func (h *Handle) Chat(ctx context.Context, req llmcore.ChatRequest) (*llmcore.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	model := wire.ChooseModel(req, h.cfg.ModelName)
	body := wire.BuildAnthropicRequest(req, model, false)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, llmcore.NewError(llmcore.KindProtocol, "failed to encode request").WithCause(err).WithProvider(h.name)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint("/v1/messages"), bytes.NewReader(payload))
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
	return wire.DecodeAnthropicResponse(respBody, model)
}

func (h *Handle) StreamChat(ctx context.Context, req llmcore.ChatRequest) (<-chan llmcore.ChatStreamChunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	model := wire.ChooseModel(req, h.cfg.ModelName)
	body := wire.BuildAnthropicRequest(req, model, true)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, llmcore.NewError(llmcore.KindProtocol, "failed to encode request").WithCause(err).WithProvider(h.name)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint("/v1/messages"), bytes.NewReader(payload))
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

// Embed always fails: Anthropic has no embeddings endpoint, per §4.3's
// edge-case table.
func (h *Handle) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, llmcore.NewError(llmcore.KindUnsupportedOp, "anthropic-style providers do not support embeddings").WithProvider(h.name)
}

func (h *Handle) ListModels(ctx context.Context) ([]llmcore.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint("/v1/models"), nil)
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
		Data []llmcore.ModelInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, llmcore.NewError(llmcore.KindProtocol, "failed to decode models response").WithCause(err).WithProvider(h.name)
	}
	return decoded.Data, nil
}

func (h *Handle) Probe(ctx context.Context) llmcore.ProbeResult {
	start := time.Now()
	models, err := h.ListModels(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return llmcore.ProbeResult{Ok: false, LatencyMS: latency, Reason: err.Error()}
	}
	return llmcore.ProbeResult{Ok: true, LatencyMS: latency, Models: models}
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
