package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedEncoder memoizes another encoder. Encoders are pure, so a write the
// cache decides to drop only costs a recompute later.
type CachedEncoder struct {
	inner Encoder
	cache *ristretto.Cache
}

// NewCachedEncoder wraps inner with a cache bounded to roughly maxBytes of
// vector data. If maxBytes <= 0, 16MB is used.
func NewCachedEncoder(inner Encoder, maxBytes int64) (*CachedEncoder, error) {
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &CachedEncoder{inner: inner, cache: cache}, nil
}

// Encode returns a cached vector for text, computing it on a miss. The
// returned slice is a private copy.
func (c *CachedEncoder) Encode(ctx context.Context, text string) (Vector, error) {
	if v, ok := c.cache.Get(text); ok {
		return clone(v.(Vector)), nil
	}
	vec, err := c.inner.Encode(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, clone(vec), int64(len(vec)*4))
	return vec, nil
}

// Dimensions returns the wrapped encoder's vector size.
func (c *CachedEncoder) Dimensions() int { return c.inner.Dimensions() }

// Close stops the cache's background goroutines.
func (c *CachedEncoder) Close() {
	c.cache.Close()
}

func clone(v Vector) Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}
