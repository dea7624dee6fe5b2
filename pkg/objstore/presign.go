package objstore

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	presignCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lakesync_presign_cache_hits_total",
		Help: "Presigned URLs served from the cache.",
	})
	presignCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lakesync_presign_cache_misses_total",
		Help: "Presigned URLs that had to be signed.",
	})
)

// PresignCache keeps presigned GET URLs for a fixed lifetime. Only URLs
// whose expiry is at least twice the lifetime are cached, so a cached URL is
// always valid for at least another lifetime.
type PresignCache struct {
	cache    *expirable.LRU[string, string]
	lifetime time.Duration
}

func NewPresignCache(size int, lifetime time.Duration) *PresignCache {
	if size <= 0 {
		size = 1024
	}
	return &PresignCache{
		cache:    expirable.NewLRU[string, string](size, nil, lifetime),
		lifetime: lifetime,
	}
}

func (c *PresignCache) Get(ctx context.Context, bucket, key string, ttl time.Duration, sign func(context.Context) (string, error)) (string, error) {
	if c == nil || ttl < 2*c.lifetime {
		return sign(ctx)
	}

	cacheKey := fmt.Sprintf("%s/%s@%s", bucket, key, ttl)
	if url, ok := c.cache.Get(cacheKey); ok {
		presignCacheHits.Inc()
		return url, nil
	}
	presignCacheMisses.Inc()

	url, err := sign(ctx)
	if err != nil {
		return "", err
	}
	c.cache.Add(cacheKey, url)
	return url, nil
}

// Invalidate drops cached URLs of a key, e.g. after it was deleted.
func (c *PresignCache) Invalidate(bucket, key string) {
	if c == nil {
		return
	}
	prefix := bucket + "/" + key + "@"
	for _, k := range c.cache.Keys() {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			c.cache.Remove(k)
		}
	}
}

func (c *PresignCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
