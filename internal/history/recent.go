package history

import (
	"context"
	"strconv"

	"github.com/vidfriends/scout/internal/models"
	"github.com/vidfriends/scout/internal/querycache"
)

// RecentCache serves recent-search listings from a per-user cache.
type RecentCache struct {
	store Store
	cache *querycache.Cache[[]models.HistoryEntry]
}

// NewRecentCache wraps store with cache.
func NewRecentCache(store Store, cache *querycache.Cache[[]models.HistoryEntry]) *RecentCache {
	return &RecentCache{store: store, cache: cache}
}

// Recent returns the latest limit entries for userID.
func (c *RecentCache) Recent(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error) {
	if c.store == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	key := recentKey(userID, limit)
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	entries, err := c.store.RecentSearches(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, entries)
	return entries, nil
}

// Invalidate drops every cached listing for userID.
func (c *RecentCache) Invalidate(userID string) {
	c.cache.InvalidatePrefix(querycache.Key(userID, "recent", ""))
}

// Purge drops every cached listing.
func (c *RecentCache) Purge() {
	c.cache.Purge()
}

func recentKey(userID string, limit int) string {
	return querycache.Key(userID, "recent", strconv.Itoa(limit))
}
