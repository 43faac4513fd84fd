package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mediasearch/internal/db"
	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
)

var cacheKeyPrefix = domain.KeyPrefix + "emb_cache:"

// store is the consumer interface for the embedding cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// CachedEmbedder caches embeddings of text and uploaded bytes in a key-value store.
// Path content is never cached: the file behind a path may change.
type CachedEmbedder struct {
	inner      domain.Embedder
	store      store
	model      string
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator.
// cacheTotal is a counter vec with labels "modality" and "result" ("hit"/"miss"), passed explicitly.
func New(
	inner domain.Embedder,
	s store,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedEmbedder {
	return &CachedEmbedder{
		inner:      inner,
		store:      s,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// WithModel scopes keys to a model so switching models never serves stale vectors.
func (c *CachedEmbedder) WithModel(model string) *CachedEmbedder {
	c.model = model
	return c
}

// WithTTL expires cached vectors ttl after their last hit. Zero keeps them forever.
func (c *CachedEmbedder) WithTTL(ttl time.Duration) *CachedEmbedder {
	c.ttl = ttl
	return c
}

// Embed returns a cached embedding or calls the inner embedder.
// Cache hit: TotalTokens = 0 (no real tokens consumed).
func (c *CachedEmbedder) Embed(
	ctx context.Context, content domain.Content, m modality.Modality,
) (domain.EmbeddingResult, error) {
	key, ok := c.cacheKey(content, m)
	if !ok {
		return c.embed(ctx, content, m)
	}

	if vec, ok := c.getFromCache(ctx, key); ok {
		c.incCache(m, "hit")
		c.touch(ctx, key)
		return domain.EmbeddingResult{Embedding: vec}, nil
	}

	c.incCache(m, "miss")

	result, err := c.embed(ctx, content, m)
	if err != nil {
		return domain.EmbeddingResult{}, err
	}

	c.putToCache(ctx, key, result.Embedding)
	return result, nil
}

// HealthCheck delegates to the inner embedder when it supports health checks.
func (c *CachedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := c.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // transparent decorator
	}
	return nil
}

func (c *CachedEmbedder) embed(
	ctx context.Context, content domain.Content, m modality.Modality,
) (domain.EmbeddingResult, error) {
	result, err := c.inner.Embed(ctx, content, m)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed %s: %w", m, err)
	}
	return result, nil
}

func (c *CachedEmbedder) incCache(m modality.Modality, result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(string(m), result).Inc()
	}
}

// cacheKey hashes the payload. Reports false for content that is not cached.
func (c *CachedEmbedder) cacheKey(content domain.Content, m modality.Modality) (string, bool) {
	kind, err := content.Kind()
	if err != nil {
		return "", false
	}

	h := sha256.New()
	h.Write([]byte(c.model))
	h.Write([]byte{0})
	switch kind {
	case domain.ContentText:
		h.Write([]byte(content.Text))
	case domain.ContentData:
		h.Write(content.Data)
	default:
		return "", false
	}
	return cacheKeyPrefix + string(m) + ":" + hex.EncodeToString(h.Sum(nil)), true
}

func (c *CachedEmbedder) getFromCache(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	vec, err := bytesToVector(data)
	if err != nil {
		c.logger.Warn("Failed to parse cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	return vec, true
}

func (c *CachedEmbedder) putToCache(ctx context.Context, key string, vec []float32) {
	data := vectorToCacheBytes(vec)
	var err error
	if c.ttl > 0 {
		err = c.store.SetWithTTL(ctx, key, data, c.ttl)
	} else {
		err = c.store.Set(ctx, key, data)
	}
	if err != nil {
		c.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
}

// touch slides the expiry of a hit so popular queries stay cached.
func (c *CachedEmbedder) touch(ctx context.Context, key string) {
	if c.ttl <= 0 {
		return
	}
	if err := c.store.Expire(ctx, key, c.ttl); err != nil {
		c.logger.Warn("Failed to refresh cached embedding TTL", zap.String("key", key), zap.Error(err))
	}
}

func vectorToCacheBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
