package discord

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachingExchanger remembers resolved users for a short time so repeated
// requests with the same token do not hit the Discord API.
type CachingExchanger struct {
	next  TokenExchanger
	users *expirable.LRU[string, *User]
}

// NewCachingExchanger wraps next with a cache of at most size users, each
// kept for ttl. Failed lookups are never cached.
func NewCachingExchanger(next TokenExchanger, size int, ttl time.Duration) *CachingExchanger {
	return &CachingExchanger{
		next:  next,
		users: expirable.NewLRU[string, *User](size, nil, ttl),
	}
}

// CurrentUser returns the cached user for accessToken, resolving it on a miss.
func (c *CachingExchanger) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	key := tokenKey(accessToken)
	if user, ok := c.users.Get(key); ok {
		return user, nil
	}
	user, err := c.next.CurrentUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	c.users.Add(key, user)
	return user, nil
}

// tokenKey keeps raw tokens out of memory longer than the request.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
