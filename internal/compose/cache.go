package compose

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvilelaf/tsunami/pkg/cache"
	"github.com/dvilelaf/tsunami/pkg/llm"
	"github.com/dvilelaf/tsunami/pkg/logging"
)

// CacheKeyPrefix namespaces memoised completions in the store.
const CacheKeyPrefix = "llm_"

// KV is the store surface the completion cache needs.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Write(ctx context.Context, data map[string]string) error
}

// CachingProvider memoises collected completions by request digest, so a
// stage that is replayed after a failed agreement round reuses the exact
// text it proposed before.
type CachingProvider struct {
	next   llm.Provider
	kv     KV
	memory *cache.Cache[string]
	logger logging.Logger
}

// NewCachingProvider layers an in-process cache over the store. The memory
// layer also collapses identical requests issued concurrently.
func NewCachingProvider(next llm.Provider, kv KV, logger logging.Logger) *CachingProvider {
	return &CachingProvider{
		next:   next,
		kv:     kv,
		logger: logger,
		memory: cache.New[string](cache.Options{TTL: 24 * time.Hour, MaxEntries: 512}, cache.MetricsHooks{
			OnHit: func() { cacheHits.WithLabelValues("memory").Inc() },
		}),
	}
}

func cacheKey(req llm.Request) (string, error) {
	raw, err := json.Marshal(struct {
		Messages    []llm.Message `json:"messages"`
		Temperature *float64      `json:"temperature"`
		Seed        *int64        `json:"seed"`
		MaxTokens   int           `json:"max_tokens"`
	}{req.Messages, req.Temperature, req.Seed, req.MaxTokens})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return CacheKeyPrefix + hex.EncodeToString(sum[:]), nil
}

// Generate returns the cached completion for req or asks the provider.
// Cache failures degrade to an uncached call.
func (c *CachingProvider) Generate(ctx context.Context, req llm.Request) (string, error) {
	key, err := cacheKey(req)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	return c.memory.Get(ctx, key, func(ctx context.Context) (string, error) {
		if text, ok, err := c.kv.Get(ctx, key); err == nil && ok {
			cacheHits.WithLabelValues("store").Inc()
			return text, nil
		}
		text, err := llm.Collect(ctx, c.next, req)
		if err != nil {
			return "", err
		}
		if err := c.kv.Write(ctx, map[string]string{key: text}); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("Failed to store completion, a replay may generate different text")
		}
		return text, nil
	})
}
