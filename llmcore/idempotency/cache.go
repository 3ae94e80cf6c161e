// Package idempotency implements the redis-backed idempotent-replay
// cache described in SPEC_FULL §4.11: once a non-streaming request has
// completed, a repeat of the identical request is answered from the
// cache. Identical requests in flight at the same time are not
// coalesced; each one misses and reaches the provider.
//
// Grounded on the teacher's llm/idempotency.Manager (redisManager)
// for the SHA256-digest/Get/Set/TTL shape, narrowed to this dispatch
// core's own key derivation: §4.11 excludes Temperature/TopP from the
// digest (sampling noise shouldn't break cache hits) where the
// teacher's GenerateKey digests whatever opaque inputs the caller
// passes it.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/paxoscn/llmdispatch/llmcore"
)

// DefaultTTL is how long a cached response stays replayable.
const DefaultTTL = time.Hour

// digestInput is the subset of a ChatRequest the idempotency key is
// derived from. SamplingParams is deliberately omitted: per §4.11, two
// requests differing only in Temperature/TopP are still the same
// logical request for replay purposes.
type digestInput struct {
	Model    string              `json:"model"`
	Messages []llmcore.Message   `json:"messages"`
}

// Key derives a stable idempotency key for req: a SHA256 hex digest
// over Model and Messages.
func Key(req llmcore.ChatRequest) (string, error) {
	data, err := json.Marshal(digestInput{Model: req.Model, Messages: req.Messages})
	if err != nil {
		return "", fmt.Errorf("failed to serialize idempotency digest input: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Cache caches a ChatResponse per idempotency key in redis, so a
// repeat of a request whose response has already been stored can be
// answered without a second call to any provider.
type Cache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// New builds a Cache over an existing redis client (a *redis.Client
// pointed at miniredis works identically in tests).
func New(client *redis.Client, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, prefix: "llmdispatch:idempotency:", logger: logger}
}

// Get returns the cached response for key, if any. A miss is reported
// as (nil, false, nil), not an error.
func (c *Cache) Get(ctx context.Context, key string) (*llmcore.ChatResponse, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("idempotency cache read failed: %w", err)
	}
	var resp llmcore.ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false, fmt.Errorf("idempotency cache entry corrupt: %w", err)
	}
	return &resp, true, nil
}

// Set stores resp under key with ttl (DefaultTTL if ttl <= 0).
func (c *Cache) Set(ctx context.Context, key string, resp *llmcore.ChatResponse, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to serialize cached response: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency cache write failed: %w", err)
	}
	return nil
}
