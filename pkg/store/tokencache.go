package store

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedTokens wraps a TokenStore with an expiring LRU cache. Misses are
// cached too, so hosts without a credential do not hit the backend on every
// tool call.
type CachedTokens struct {
	next  TokenStore
	cache *expirable.LRU[string, cachedToken]
}

type cachedToken struct {
	token string
	found bool
}

var _ TokenStore = (*CachedTokens)(nil)

// NewCachedTokens creates a cache holding up to size entries for ttl.
func NewCachedTokens(next TokenStore, size int, ttl time.Duration) *CachedTokens {
	if size <= 0 {
		size = 256
	}
	return &CachedTokens{
		next:  next,
		cache: expirable.NewLRU[string, cachedToken](size, nil, ttl),
	}
}

func (c *CachedTokens) Token(ctx context.Context, domain string) (string, error) {
	if v, ok := c.cache.Get(domain); ok {
		if !v.found {
			return "", ErrNotFound
		}
		return v.token, nil
	}

	token, err := c.next.Token(ctx, domain)
	switch {
	case errors.Is(err, ErrNotFound):
		c.cache.Add(domain, cachedToken{})
		return "", err
	case err != nil:
		return "", err
	}
	c.cache.Add(domain, cachedToken{token: token, found: true})
	return token, nil
}

func (c *CachedTokens) PutToken(ctx context.Context, domain, token string) error {
	if err := c.next.PutToken(ctx, domain, token); err != nil {
		return err
	}
	c.cache.Remove(domain)
	return nil
}
