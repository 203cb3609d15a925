package directory

import (
	"context"
	"errors"
	"sync"

	"github.com/opsmenu/opsmenu/internal/model"
)

// Cache wraps a Resolver and keeps results for the lifetime of the session.
// Group memberships are assumed stable while the operator is logged in, so
// there is no TTL eviction. UserNotFound is cached too, an unreachable
// directory is not (transient).
type Cache struct {
	inner Resolver

	mu      sync.RWMutex
	entries map[string]cached
}

type cached struct {
	identity model.UserIdentity
	err      error
}

func NewCache(inner Resolver) *Cache {
	return &Cache{
		inner:   inner,
		entries: make(map[string]cached),
	}
}

func (c *Cache) Resolve(ctx context.Context, username string) (model.UserIdentity, error) {
	c.mu.RLock()
	hit, ok := c.entries[username]
	c.mu.RUnlock()
	if ok {
		return hit.identity, hit.err
	}

	identity, err := c.inner.Resolve(ctx, username)
	if err != nil && !errors.Is(err, model.ErrUserNotFound) {
		return model.UserIdentity{}, err
	}

	c.mu.Lock()
	c.entries[username] = cached{identity: identity, err: err}
	c.mu.Unlock()
	return identity, err
}

// Discard drops all cached identities, ending the session.
func (c *Cache) Discard() {
	c.mu.Lock()
	c.entries = make(map[string]cached)
	c.mu.Unlock()
}
