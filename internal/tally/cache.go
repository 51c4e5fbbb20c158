package tally

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultCacheSize = 500
	DefaultCacheTTL  = 5 * time.Minute
)

// cacheItem 包装快照和过期时间
type cacheItem struct {
	snapshot  Snapshot
	expiresAt time.Time
}

// Cache keeps the latest snapshot per answer. It never replaces a snapshot
// with an older revision, so out-of-order publishes cannot roll a tally back.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, cacheItem]
	ttl time.Duration
	now func() time.Time
}

var (
	_ Publisher = (*Cache)(nil)
	_ Source    = (*Cache)(nil)
)

// NewCache creates a cache holding up to size answers for ttl each.
// Non-positive arguments fall back to the defaults.
func NewCache(size int, ttl time.Duration) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	l, err := lru.New[string, cacheItem](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, ttl: ttl, now: time.Now}, nil
}

// Publish stores s unless a newer snapshot is already cached.
func (c *Cache) Publish(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.lru.Get(s.AnswerID); ok && c.now().Before(cur.expiresAt) && !s.Newer(cur.snapshot) {
		return
	}
	c.lru.Add(s.AnswerID, cacheItem{snapshot: s, expiresAt: c.now().Add(c.ttl)})
}

// Latest returns the cached snapshot, or false if absent or expired.
func (c *Cache) Latest(answerID string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.lru.Get(answerID)
	if !ok {
		cacheRequests.WithLabelValues("miss").Inc()
		return Snapshot{}, false
	}
	// 检查过期
	if c.now().After(item.expiresAt) {
		c.lru.Remove(answerID)
		cacheRequests.WithLabelValues("expired").Inc()
		return Snapshot{}, false
	}
	cacheRequests.WithLabelValues("hit").Inc()
	return item.snapshot, true
}

// Delete drops an answer from the cache.
func (c *Cache) Delete(answerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(answerID)
}

func (c *Cache) Len() int {
	return c.lru.Len()
}
