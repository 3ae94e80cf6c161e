package llmcore

import (
	"context"
	"time"
)

// ConfigStore is the persistence interface the dispatch façade
// consumes (§4.9/§6). Both methods return (nil, nil) on a miss, not
// an error — a miss is a façade-level concern (NoDefaultConfiguration),
// not a store-level one. internal/configstore provides a gorm-backed
// implementation; tests may substitute an in-memory map or an
// in-memory sqlite-backed store.
type ConfigStore interface {
	FindDefaultByTenant(ctx context.Context, tenantID string) (*ModelConfig, error)
	FindByID(ctx context.Context, configID string) (*ModelConfig, error)
}

// Dispatcher is the subset of llmcore/dispatch.Dispatcher the façade
// depends on. Declared here (rather than importing the dispatch
// package) so llmcore stays free of a dependency on its own
// sub-package — dispatch.Dispatcher satisfies this interface as-is.
type Dispatcher interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	StreamChat(ctx context.Context, req ChatRequest) (<-chan ChatStreamChunk, error)
}

// IdempotencyCache is the subset of llmcore/idempotency.Cache the
// façade depends on, declared for the same layering reason as
// Dispatcher above. A nil IdempotencyCache on Facade disables caching
// entirely (§4.11: absence is not a bootstrap failure).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (*ChatResponse, bool, error)
	Set(ctx context.Context, key string, resp *ChatResponse, ttl time.Duration) error
}

// Facade is the thin caller-facing entrypoint of §4.9: resolve a
// tenant's ModelConfig, merge it into the request, and hand off to
// the dispatcher. It is the only layer that knows about tenants or
// persisted configuration; the dispatcher itself is tenant-agnostic.
type Facade struct {
	Store      ConfigStore
	Dispatch   Dispatcher
	Idempotent IdempotencyCache
	KeyFunc    func(ChatRequest) (string, error)
}

// resolveConfig implements §4.9's resolution rule: an explicit
// configID takes precedence; otherwise the tenant's default is used.
// A miss in either case (or no default configured) is
// NoDefaultConfiguration.
func (f *Facade) resolveConfig(ctx context.Context, tenantID, configID string) (*ModelConfig, error) {
	if configID != "" {
		cfg, err := f.Store.FindByID(ctx, configID)
		if err != nil {
			return nil, err
		}
		if cfg == nil {
			return nil, NewError(KindNoDefaultConfig, "no configuration found for the given id").WithProvider(configID)
		}
		return cfg, nil
	}
	cfg, err := f.Store.FindDefaultByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, NewError(KindNoDefaultConfig, "tenant has no default model configuration").WithProvider(tenantID)
	}
	return cfg, nil
}

// applyConfig merges cfg into req: req's own Model/SamplingParams win
// when already set, so a caller can still override the resolved
// default on a per-request basis.
func applyConfig(req ChatRequest, cfg *ModelConfig) ChatRequest {
	if req.Model == "" {
		req.Model = cfg.ModelName
	}
	if req.SamplingParams.Temperature == nil {
		req.SamplingParams.Temperature = cfg.SamplingParams.Temperature
	}
	if req.SamplingParams.TopP == nil {
		req.SamplingParams.TopP = cfg.SamplingParams.TopP
	}
	if req.SamplingParams.MaxTokens == nil {
		req.SamplingParams.MaxTokens = cfg.SamplingParams.MaxTokens
	}
	if req.SamplingParams.FrequencyPenalty == nil {
		req.SamplingParams.FrequencyPenalty = cfg.SamplingParams.FrequencyPenalty
	}
	if req.SamplingParams.PresencePenalty == nil {
		req.SamplingParams.PresencePenalty = cfg.SamplingParams.PresencePenalty
	}
	if len(req.SamplingParams.StopSequences) == 0 {
		req.SamplingParams.StopSequences = cfg.SamplingParams.StopSequences
	}
	return req
}

// idempotencyTTL is the cache entry lifetime the façade asks for; the
// cache itself defaults this if passed <= 0.
const idempotencyTTL = time.Hour

// Chat resolves tenantID's configuration (or configID, if given),
// merges it into req, and dispatches — checking the idempotency cache
// first and populating it on a fresh success, per §4.11. A cache hit
// short-circuits the dispatcher entirely and is not counted against
// provider health.
func (f *Facade) Chat(ctx context.Context, tenantID, configID string, req ChatRequest) (*ChatResponse, error) {
	cfg, err := f.resolveConfig(ctx, tenantID, configID)
	if err != nil {
		return nil, err
	}
	req = applyConfig(req, cfg)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if f.Idempotent != nil && f.KeyFunc != nil {
		key, err := f.KeyFunc(req)
		if err == nil {
			if cached, ok, getErr := f.Idempotent.Get(ctx, key); getErr == nil && ok {
				return cached, nil
			}
			resp, dispatchErr := f.Dispatch.Chat(ctx, req)
			if dispatchErr != nil {
				return nil, dispatchErr
			}
			_ = f.Idempotent.Set(ctx, key, resp, idempotencyTTL)
			return resp, nil
		}
	}

	return f.Dispatch.Chat(ctx, req)
}

// StreamChat resolves configuration the same way as Chat, but never
// consults the idempotency cache (§4.11 scopes caching to
// non-streaming requests only).
func (f *Facade) StreamChat(ctx context.Context, tenantID, configID string, req ChatRequest) (<-chan ChatStreamChunk, error) {
	cfg, err := f.resolveConfig(ctx, tenantID, configID)
	if err != nil {
		return nil, err
	}
	req = applyConfig(req, cfg)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return f.Dispatch.StreamChat(ctx, req)
}
