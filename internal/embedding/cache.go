package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached memoizes embeddings by text so repeated chunks and queries
// skip the provider.
type Cached struct {
	next  Embedder
	cache *ristretto.Cache
}

// NewCached wraps next with a cost-bounded cache of maxBytes.
func NewCached(next Embedder, maxBytes int64) (*Cached, error) {
	entries := maxBytes / int64(4*next.Dims()+64)
	if entries < 1 {
		entries = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        entries * 10,
		MaxCost:            maxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) (Vector, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.(Vector), nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, v, int64(4*len(v)+len(text)))
	return v, nil
}

func (c *Cached) Dims() int { return c.next.Dims() }

// Close releases the cache's background goroutines.
func (c *Cached) Close() {
	c.cache.Close()
}
