package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/store"
)

const lookupTimeout = 5 * time.Second

// UserSource is the backing store, normally the users table.
type UserSource interface {
	LookupUser(ctx context.Context, userID string) (domain.UserProfile, error)
}

type cacheEntry struct {
	profile   domain.UserProfile
	expiresAt time.Time
}

// Cache fronts a UserSource with an in-memory TTL cache. Concurrent
// lookups of the same user share one backend query. Unknown users are
// cached with an empty name for a shorter time.
type Cache struct {
	localCache  sync.Map
	source      UserSource
	ttl         time.Duration
	negativeTTL time.Duration
	group       singleflight.Group
	now         func() time.Time
}

func NewCache(source UserSource, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{
		source:      source,
		ttl:         ttl,
		negativeTTL: ttl / 10,
		now:         time.Now,
	}
}

// Cached returns a profile only if a fresh one is in memory. It never
// touches the backend.
func (c *Cache) Cached(userID string) (domain.UserProfile, bool) {
	if raw, ok := c.localCache.Load(userID); ok {
		entry := raw.(cacheEntry)
		if c.now().Before(entry.expiresAt) {
			return entry.profile, true
		}
		c.localCache.Delete(userID)
	}
	return domain.UserProfile{}, false
}

// Lookup returns the cached profile or queries the backend. The shared
// backend query is detached from ctx, so one caller giving up does not
// fail the others waiting on it.
func (c *Cache) Lookup(ctx context.Context, userID string) (domain.UserProfile, error) {
	if p, ok := c.Cached(userID); ok {
		return p, nil
	}

	ch := c.group.DoChan(userID, func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		p, err := c.source.LookupUser(qctx, userID)
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			c.localCache.Store(userID, cacheEntry{
				profile:   domain.UserProfile{ID: userID},
				expiresAt: c.now().Add(c.negativeTTL),
			})
			return nil, err
		case err != nil:
			return nil, err
		}

		c.localCache.Store(userID, cacheEntry{
			profile:   p,
			expiresAt: c.now().Add(c.ttl),
		})
		return p, nil
	})

	select {
	case <-ctx.Done():
		return domain.UserProfile{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.UserProfile{}, res.Err
		}
		return res.Val.(domain.UserProfile), nil
	}
}
