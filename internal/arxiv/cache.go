package arxiv

import (
	"context"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 10 * time.Minute
)

type cacheEntry struct {
	papers   []Paper
	storedAt time.Time
}

// CachedSearcher keeps recent successful searches in an LRU. Failed searches
// are not cached.
type CachedSearcher struct {
	next  Searcher
	cache *lru.Cache[string, cacheEntry]
	ttl   time.Duration
	now   func() time.Time
}

// NewCachedSearcher wraps next. Non-positive size or ttl fall back to 256
// entries and ten minutes.
func NewCachedSearcher(next Searcher, size int, ttl time.Duration) *CachedSearcher {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cache, _ := lru.New[string, cacheEntry](size)
	return &CachedSearcher{next: next, cache: cache, ttl: ttl, now: time.Now}
}

func (c *CachedSearcher) Search(ctx context.Context, query string, maxResults int) ([]Paper, error) {
	key := strings.ToLower(strings.Join(strings.Fields(query), " ")) + "|" + strconv.Itoa(maxResults)
	if entry, ok := c.cache.Get(key); ok {
		if c.now().Sub(entry.storedAt) < c.ttl {
			return entry.papers, nil
		}
		c.cache.Remove(key)
	}

	papers, err := c.next.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cacheEntry{papers: papers, storedAt: c.now()})
	return papers, nil
}

// Len reports the number of cached searches.
func (c *CachedSearcher) Len() int {
	return c.cache.Len()
}
