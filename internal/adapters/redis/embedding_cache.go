package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
)

const (
	embeddingKeyPrefix = "embedding:"
	embeddingTTL       = 7 * 24 * time.Hour
)

// Embedder matches the provider capability the cache wraps
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingCache memoizes embeddings in Redis keyed by content hash.
// The same persona memories get embedded once fleet-wide instead of
// once per restart.
type EmbeddingCache struct {
	inner Embedder
	redis *Client
}

// NewEmbeddingCache wraps a provider with Redis memoization
func NewEmbeddingCache(inner Embedder, client *Client) *EmbeddingCache {
	return &EmbeddingCache{inner: inner, redis: client}
}

// Embed returns the cached vector or computes and stores it
func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := embeddingKey(text)

	if data, err := c.redis.Cache().Get(ctx, key).Bytes(); err == nil {
		var vec []float32
		if err := json.Unmarshal(data, &vec); err == nil {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(vec); err == nil {
		if err := c.redis.Cache().Set(ctx, key, data, embeddingTTL).Err(); err != nil {
			logger.Debug("embedding cache write failed", zap.Error(err))
		}
	}
	return vec, nil
}

func embeddingKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return embeddingKeyPrefix + hex.EncodeToString(sum[:16])
}
