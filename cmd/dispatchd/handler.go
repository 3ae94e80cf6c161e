package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/paxoscn/llmdispatch/llmcore"
)

// chatDemoRequest is the wire shape of the one demo chat endpoint this
// binary exposes. It is a manual-smoke-test convenience, not a
// contract of the dispatch core.
type chatDemoRequest struct {
	TenantID string            `json:"tenant_id"`
	ConfigID string            `json:"config_id"`
	Messages []llmcore.Message `json:"messages"`
	Model    string            `json:"model"`
}

func newHandler(facade *llmcore.Facade, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req chatDemoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		resp, err := facade.Chat(r.Context(), req.TenantID, req.ConfigID, llmcore.ChatRequest{
			Messages: req.Messages,
			Model:    req.Model,
		})
		if err != nil {
			writeError(w, logger, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	return mux
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	kind := llmcore.KindOf(err)
	switch kind {
	case llmcore.KindValidation:
		status = http.StatusBadRequest
	case llmcore.KindAuthentication:
		status = http.StatusUnauthorized
	case llmcore.KindRateLimit:
		status = http.StatusTooManyRequests
	case llmcore.KindModelNotFound, llmcore.KindNoDefaultConfig:
		status = http.StatusNotFound
	case llmcore.KindNoHealthyProviders, llmcore.KindBreakerOpen:
		status = http.StatusServiceUnavailable
	case llmcore.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	logger.Warn("chat request failed", zap.String("kind", string(kind)), zap.Error(err))
	http.Error(w, err.Error(), status)
}
