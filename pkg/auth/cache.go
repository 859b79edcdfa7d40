package auth

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/ethpandaops/recipe-app-api/pkg/store"
)

// tokenCache keeps recently validated sessions in memory, keyed by token hash.
// Users are still loaded from the store on every request so deactivation and
// deletion take effect immediately.
type tokenCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

func newTokenCache(ttl time.Duration) (*tokenCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,     // number of keys to track frequency of (100k).
		MaxCost:     1 << 14, // at most 16k sessions.
		BufferItems: 64,      // number of keys per Get buffer.
	})
	if err != nil {
		return nil, fmt.Errorf("creating token cache: %w", err)
	}

	return &tokenCache{cache: cache, ttl: ttl}, nil
}

func (c *tokenCache) get(tokenHash string) (*store.Session, bool) {
	value, ok := c.cache.Get(tokenHash)
	if !ok {
		return nil, false
	}

	session, ok := value.(*store.Session)

	return session, ok
}

// set caches a session until the earlier of the cache TTL and the session expiry.
func (c *tokenCache) set(session *store.Session) {
	ttl := c.ttl
	if remaining := time.Until(session.ExpiresAt); remaining < ttl {
		ttl = remaining
	}

	if ttl <= 0 {
		return
	}

	c.cache.SetWithTTL(session.TokenHash, session, 1, ttl)
}

func (c *tokenCache) del(tokenHash string) {
	c.cache.Del(tokenHash)
}

func (c *tokenCache) close() {
	c.cache.Close()
}
