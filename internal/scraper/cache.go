package scraper

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/vidfriends/scout/internal/logging"
	"github.com/vidfriends/scout/internal/models"
	"github.com/vidfriends/scout/internal/querycache"
)

// CachingPipeline wraps another Pipeline with a per-user TTL cache.
type CachingPipeline struct {
	base  Pipeline
	cache *querycache.Cache[[]models.SearchResult]
}

// NewCachingPipeline returns a Pipeline that caches successful fetches in cache.
func NewCachingPipeline(base Pipeline, cache *querycache.Cache[[]models.SearchResult]) *CachingPipeline {
	return &CachingPipeline{base: base, cache: cache}
}

// FetchForTargets returns cached results when available, otherwise it delegates
// to the underlying pipeline and stores the result.
func (p *CachingPipeline) FetchForTargets(ctx context.Context, targets []string, videosPerTarget int, since *time.Time) ([]models.SearchResult, error) {
	if p == nil || p.base == nil {
		return nil, ErrNotConfigured
	}
	if p.cache == nil {
		return p.base.FetchForTargets(ctx, targets, videosPerTarget, since)
	}

	key := fetchKey(logging.UserIDFromContext(ctx), targets, videosPerTarget, since)
	if cached, ok := p.cache.Get(key); ok {
		logging.FromContext(ctx).Debug("fetch cache hit", "targets", len(targets))
		return cloneResults(cached), nil
	}

	results, err := p.base.FetchForTargets(ctx, targets, videosPerTarget, since)
	if err != nil {
		return nil, err
	}
	if ctx.Err() == nil {
		p.cache.Set(key, cloneResults(results))
	}
	return results, nil
}

func fetchKey(userID string, targets []string, videosPerTarget int, since *time.Time) string {
	sinceKey := ""
	if since != nil {
		sinceKey = since.UTC().Format(time.DateOnly)
	}
	return querycache.Key(userID, "fetch", strings.Join(targets, ","), strconv.Itoa(videosPerTarget), sinceKey)
}

func cloneResults(in []models.SearchResult) []models.SearchResult {
	out := make([]models.SearchResult, len(in))
	for i, r := range in {
		out[i] = models.SearchResult{ForTarget: r.ForTarget, Items: append([]models.ContentRecord(nil), r.Items...)}
	}
	return out
}
