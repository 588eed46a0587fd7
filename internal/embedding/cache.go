package embedding

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Cached memoizes query embeddings in memory so a repeated question within a
// session does not hit the embedding API again. Nothing is written to disk.
type Cached struct {
	next  Embedder
	cache *cache.Cache
}

// NewCached wraps next with an in-memory cache whose entries expire after ttl.
func NewCached(next Embedder, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Cached{next: next, cache: cache.New(ttl, 2*ttl)}
}

// Name returns the identifier of the wrapped embedder.
func (c *Cached) Name() string { return c.next.Name() }

// Embed returns a cached vector or delegates to the wrapped embedder.
// Failures are not cached.
func (c *Cached) Embed(ctx context.Context, model, text string) ([]float64, error) {
	key := model + "\x00" + text
	if v, found := c.cache.Get(key); found {
		return v.([]float64), nil
	}
	vec, err := c.next.Embed(ctx, model, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec, cache.DefaultExpiration)
	return vec, nil
}
