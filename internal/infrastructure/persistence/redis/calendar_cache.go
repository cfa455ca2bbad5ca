package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/session"
)

// ══════════════════════════════════════════════════════════════════════════════
// CALENDAR VIEW CACHE
// Implements the query.ViewCache port. Every cache key embeds each involved
// group's version counter; bumping a counter orphans all keys that include
// the group, so invalidation never enumerates or deletes view keys. Orphaned
// entries expire by TTL.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// prefixView namespaces cached calendar views.
	prefixView = "sessions:view:"

	// prefixVersion namespaces per-group version counters.
	prefixVersion = "sessions:ver:"

	// versionTTL keeps counters alive well past any view TTL. An expired
	// counter reads as zero, which is indistinguishable from a fresh group
	// and therefore safe.
	versionTTL = 30 * 24 * time.Hour
)

// CalendarCache is the Redis-backed view cache.
type CalendarCache struct {
	cache *Cache
}

// NewCalendarCache creates a CalendarCache.
func NewCalendarCache(cache *Cache) *CalendarCache {
	return &CalendarCache{cache: cache}
}

func versionKey(groupID uuid.UUID) string {
	return prefixVersion + groupID.String()
}

// GroupVersions reads the version counter of each group in one round trip.
func (c *CalendarCache) GroupVersions(ctx context.Context, groupIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	if len(groupIDs) == 0 {
		return map[uuid.UUID]int64{}, nil
	}

	keys := make([]string, len(groupIDs))
	for i, id := range groupIDs {
		keys[i] = versionKey(id)
	}
	values, err := c.cache.MGetInt64(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("failed to read group versions: %w", err)
	}

	out := make(map[uuid.UUID]int64, len(groupIDs))
	for i, id := range groupIDs {
		out[id] = values[i]
	}
	return out, nil
}

// GetView loads a cached view.
func (c *CalendarCache) GetView(ctx context.Context, key string) ([]session.MergedSession, bool, error) {
	var view []session.MergedSession
	err := c.cache.GetJSON(ctx, prefixView+key, &view)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return view, true, nil
}

// SetView stores a computed view.
func (c *CalendarCache) SetView(ctx context.Context, key string, view []session.MergedSession, ttl time.Duration) error {
	return c.cache.SetJSON(ctx, prefixView+key, view, ttl)
}

// Invalidate bumps the group's version counter and refreshes its TTL.
func (c *CalendarCache) Invalidate(ctx context.Context, groupID uuid.UUID) error {
	key := versionKey(groupID)
	if _, err := c.cache.Incr(ctx, key); err != nil {
		return fmt.Errorf("failed to bump group version: %w", err)
	}
	return c.cache.Client().Expire(ctx, key, versionTTL).Err()
}
