package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache stores query embeddings keyed by (model, text). A miss is (nil, nil);
// cache failures are soft, the matcher falls through to the provider.
type Cache interface {
	Get(ctx context.Context, model, text string) ([]float32, error)
	Set(ctx context.Context, model, text string, embedding []float32) error
}

// NoopCache is used when Redis is not configured.
type NoopCache struct{}

func (NoopCache) Get(ctx context.Context, model, text string) ([]float32, error) { return nil, nil }
func (NoopCache) Set(ctx context.Context, model, text string, embedding []float32) error {
	return nil
}

// RedisCache caches embeddings in Redis with a TTL. Owned by the matcher,
// never process-global state.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache creates an embedding cache with the given TTL.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("embedding-cache"),
	}
}

var (
	_ Cache = (*NoopCache)(nil)
	_ Cache = (*RedisCache)(nil)
)

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

// Get returns the cached embedding for (model, text), or nil on a miss.
func (c *RedisCache) Get(ctx context.Context, model, text string) ([]float32, error) {
	data, err := c.client.Get(ctx, cacheKey(model, text)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read embedding cache: %w", err)
	}

	embedding, err := decodeEmbedding(data)
	if err != nil {
		// Corrupt entry; treat as a miss rather than failing the match.
		c.logger.Warn("discarding corrupt embedding cache entry", zap.Error(err))
		return nil, nil
	}
	return embedding, nil
}

// Set stores an embedding with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, model, text string, embedding []float32) error {
	if err := c.client.Set(ctx, cacheKey(model, text), encodeEmbedding(embedding), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write embedding cache: %w", err)
	}
	return nil
}

// encodeEmbedding packs an embedding as little-endian float32s.
func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, 4*len(embedding))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("embedding payload length %d is not a multiple of 4", len(data))
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding, nil
}
