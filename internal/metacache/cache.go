// Package metacache implements the Metadata Cache (C3): a short-TTL, advisory lookup layer
// in front of the Metadata Store, with an in-process L1 and an optional Redis L2. Callers
// must never rely on cache presence for correctness — every miss falls through to C2.
package metacache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/familyhub/gateway/pkg/types"
)

// TTLConfig carries the three advisory TTLs, one per keyspace, plus L1 sizing.
type TTLConfig struct {
	FileTTL    time.Duration
	SearchTTL  time.Duration
	ListTTL    time.Duration
	MaxEntries int
}

// Cache is the Metadata Cache: L1 (in-process LRU) backed by an optional L2 (Redis).
// A nil Redis client runs L1-only, which is a legitimate deployment (L2 is advisory).
type Cache struct {
	l1  *lru
	l2  *redis.Client
	cfg TTLConfig

	statsMu sync.Mutex
	stats   types.CacheStats
}

// New creates a Metadata Cache. redisClient may be nil to run L1-only.
func New(cfg TTLConfig, redisClient *redis.Client) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	return &Cache{
		l1:  newLRU(cfg.MaxEntries),
		l2:  redisClient,
		cfg: cfg,
	}
}

func fileKey(fileID string) string              { return "file:" + fileID }
func searchKey(familyID, keyword string) string  { return fmt.Sprintf("search:%s:%s", familyID, keyword) }
func listKey(familyID, folderPath string) string { return fmt.Sprintf("list:%s:%s", familyID, folderPath) }

// GetFile returns a cached FileMetadata for fileID, or (nil, false) on a miss.
func (c *Cache) GetFile(ctx context.Context, fileID string) (*types.FileMetadata, bool) {
	var out types.FileMetadata
	if c.getAny(ctx, fileKey(fileID), &out) {
		return &out, true
	}
	return nil, false
}

// PutFile caches meta keyed by its fileId.
func (c *Cache) PutFile(ctx context.Context, meta *types.FileMetadata) {
	c.putAny(ctx, fileKey(meta.FileID), meta, c.cfg.FileTTL)
}

// GetSearch returns a cached search result for (familyID, keyword), or (nil, false) on a miss.
func (c *Cache) GetSearch(ctx context.Context, familyID, keyword string) (*types.FileSearchResult, bool) {
	var out types.FileSearchResult
	if c.getAny(ctx, searchKey(familyID, keyword), &out) {
		return &out, true
	}
	return nil, false
}

// PutSearch caches result keyed by (familyID, keyword), tracked so a later family-wide
// eviction can find it.
func (c *Cache) PutSearch(ctx context.Context, familyID, keyword string, result *types.FileSearchResult) {
	key := searchKey(familyID, keyword)
	c.l1.trackFamilyKey(familyID, key)
	c.putAny(ctx, key, result, c.cfg.SearchTTL)
}

// GetList returns a cached folder listing for (familyID, folderPath), or (nil, false) on a miss.
func (c *Cache) GetList(ctx context.Context, familyID, folderPath string) (*types.FamilyFileList, bool) {
	var out types.FamilyFileList
	if c.getAny(ctx, listKey(familyID, folderPath), &out) {
		return &out, true
	}
	return nil, false
}

// PutList caches list keyed by (familyID, folderPath), tracked so a later family-wide
// eviction can find it.
func (c *Cache) PutList(ctx context.Context, familyID, folderPath string, list *types.FamilyFileList) {
	key := listKey(familyID, folderPath)
	c.l1.trackFamilyKey(familyID, key)
	c.putAny(ctx, key, list, c.cfg.ListTTL)
}

// Evict removes fileId's cache entry and every search:*/list:* entry for familyID, per the
// "any successful write evicts file:* and all search/list entries for that family" contract.
func (c *Cache) Evict(ctx context.Context, fileID, familyID string) {
	keys := []string{fileKey(fileID)}
	keys = append(keys, c.l1.familyKeys(familyID)...)

	for _, k := range keys {
		c.l1.delete(k)
	}
	if c.l2 != nil && len(keys) > 0 {
		c.l2.Del(ctx, keys...)
	}
}

func (c *Cache) getAny(ctx context.Context, key string, out interface{}) bool {
	if data, ok := c.l1.get(key); ok {
		if err := json.Unmarshal(data, out); err == nil {
			c.recordHit()
			return true
		}
	}

	if c.l2 != nil {
		data, err := c.l2.Get(ctx, key).Bytes()
		if err == nil {
			if jsonErr := json.Unmarshal(data, out); jsonErr == nil {
				c.l1.put(key, data, c.cfg.FileTTL)
				c.recordHit()
				return true
			}
		}
	}

	c.recordMiss()
	return false
}

func (c *Cache) putAny(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.l1.put(key, data, ttl)
	if c.l2 != nil {
		c.l2.Set(ctx, key, data, ttl)
	}
}

func (c *Cache) recordHit() {
	c.statsMu.Lock()
	c.stats.Hits++
	c.statsMu.Unlock()
}

func (c *Cache) recordMiss() {
	c.statsMu.Lock()
	c.stats.Misses++
	c.statsMu.Unlock()
}

// Stats returns cache hit/miss counters.
func (c *Cache) Stats() types.CacheStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	stats := c.stats
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}
