package shipping

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// RefreshFunc authenticates and returns a fresh bearer token
type RefreshFunc func(ctx context.Context) (string, error)

// TokenCache holds one bearer token until lifetime-margin has passed.
// Concurrent callers that find it expired share a single refresh.
type TokenCache struct {
	refresh  RefreshFunc
	now      func() time.Time
	validFor time.Duration

	mu      sync.RWMutex
	token   string
	expires time.Time

	group singleflight.Group
}

// NewTokenCache creates a cache that trusts a token for lifetime minus margin
func NewTokenCache(refresh RefreshFunc, now func() time.Time, lifetime, margin time.Duration) *TokenCache {
	if now == nil {
		now = time.Now
	}
	validFor := lifetime - margin
	if validFor <= 0 {
		validFor = lifetime
	}
	return &TokenCache{refresh: refresh, now: now, validFor: validFor}
}

// Token returns the cached token or refreshes it
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		// another caller may have refreshed while we waited
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		tok, err := c.refresh(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = tok
		c.expires = c.now().Add(c.validFor)
		c.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token, e.g. after a 401
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" || !c.now().Before(c.expires) {
		return "", false
	}
	return c.token, true
}
