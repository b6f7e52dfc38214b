package enrich

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/maxpert/cdcrelay/registry"
	"github.com/maxpert/cdcrelay/telemetry"
)

type cacheKey struct {
	lookup registry.Lookup
	key    string
}

type cacheEntry struct {
	orgID int64
	found bool
}

// DefaultFlightTimeout bounds a backend call shared by concurrent misses
const DefaultFlightTimeout = 5 * time.Second

// CachingRepository fronts a Repository with a short-lived LRU. Concurrent
// misses for the same key share one backend call. Errors are never cached.
type CachingRepository struct {
	next          Repository
	cache         *expirable.LRU[cacheKey, cacheEntry]
	flight        singleflight.Group
	flightTimeout time.Duration
}

type CacheOption func(*CachingRepository)

// WithFlightTimeout sets the deadline of a shared backend call
func WithFlightTimeout(d time.Duration) CacheOption {
	return func(c *CachingRepository) {
		if d > 0 {
			c.flightTimeout = d
		}
	}
}

// NewCachingRepository wraps next with a cache of size entries living ttl
func NewCachingRepository(next Repository, size int, ttl time.Duration, opts ...CacheOption) *CachingRepository {
	c := &CachingRepository{
		next:          next,
		cache:         expirable.NewLRU[cacheKey, cacheEntry](size, nil, ttl),
		flightTimeout: DefaultFlightTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachingRepository) LookupOrgByKey(ctx context.Context, lookup registry.Lookup, key string) (int64, bool, error) {
	ck := cacheKey{lookup: lookup, key: key}
	if entry, ok := c.cache.Get(ck); ok {
		telemetry.LookupCacheTotal.With("hit").Inc()
		return entry.orgID, entry.found, nil
	}

	flightKey := strings.Join([]string{lookup.Table, lookup.KeyColumn, lookup.OrgColumn, key}, "\x00")
	// The shared call outlives any single caller; each caller waits on its own ctx
	ch := c.flight.DoChan(flightKey, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout)
		defer cancel()

		orgID, found, err := c.next.LookupOrgByKey(flightCtx, lookup, key)
		if err != nil {
			return nil, err
		}
		entry := cacheEntry{orgID: orgID, found: found}
		c.cache.Add(ck, entry)
		return entry, nil
	})

	select {
	case <-ctx.Done():
		telemetry.LookupCacheTotal.With("abandoned").Inc()
		return 0, false, ctx.Err()
	case res := <-ch:
		if res.Shared {
			telemetry.LookupCacheTotal.With("shared").Inc()
		} else {
			telemetry.LookupCacheTotal.With("miss").Inc()
		}
		if res.Err != nil {
			return 0, false, res.Err
		}
		entry := res.Val.(cacheEntry)
		return entry.orgID, entry.found, nil
	}
}

// Purge drops every cached entry
func (c *CachingRepository) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached entries
func (c *CachingRepository) Len() int {
	return c.cache.Len()
}
