package store

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/redis"
)

const keyPrefix = "results:"

// kv is the subset of the Redis client the cache needs.
type kv interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

var _ kv = (*pkgredis.Client)(nil)

// RedisResultCache shares full retrieval results of one dataset between
// sessions. Full results depend only on the immutable corpus, so entries
// are never stale within a deployment; the TTL bounds memory.
type RedisResultCache struct {
	client  kv
	dataset string
	ttl     time.Duration
	logger  *slog.Logger
}

var _ ResultCache = (*RedisResultCache)(nil)

func NewRedisResultCache(client kv, dataset string, ttl time.Duration) *RedisResultCache {
	return &RedisResultCache{
		client:  client,
		dataset: dataset,
		ttl:     ttl,
		logger:  slog.Default().With("component", "result-cache", "dataset", dataset),
	}
}

func (c *RedisResultCache) Get(ctx context.Context, term annotation.Term) (annotation.SentenceSet, bool) {
	key := c.buildKey(term)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var ids []annotation.SentenceID
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	c.logger.Debug("cache hit", "term", term, "key", key)
	return annotation.NewSentenceSet(ids...), true
}

func (c *RedisResultCache) Set(ctx context.Context, term annotation.Term, ids annotation.SentenceSet) {
	key := c.buildKey(term)
	data, err := json.Marshal(ids.Sorted())
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// Invalidate drops every cached result of the dataset, e.g. after the
// corpus was reloaded.
func (c *RedisResultCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+c.dataset+":*")
	if err != nil {
		return fmt.Errorf("invalidating result cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *RedisResultCache) buildKey(term annotation.Term) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(string(term))), " ")
	hash := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%s%s:%x", keyPrefix, c.dataset, hash[:16])
}
