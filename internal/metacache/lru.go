package metacache

import (
	"container/list"
	"sync"
	"time"
)

// lru is a thread-safe, string-keyed, TTL-bounded LRU, generalized from the teacher's
// offset/size-keyed block cache into a simple string-value cache for metadata entries.
type lru struct {
	mu        sync.Mutex
	maxItems  int
	items     map[string]*lruItem
	evictList *list.List

	familyMu  sync.Mutex
	byFamily  map[string]map[string]struct{}
}

type lruItem struct {
	key       string
	data      []byte
	expiresAt time.Time
	element   *list.Element
}

func newLRU(maxItems int) *lru {
	return &lru{
		maxItems:  maxItems,
		items:     make(map[string]*lruItem),
		evictList: list.New(),
		byFamily:  make(map[string]map[string]struct{}),
	}
}

func (c *lru) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		c.removeLocked(key)
		return nil, false
	}

	c.evictList.MoveToFront(item.element)
	out := make([]byte, len(item.data))
	copy(out, item.data)
	return out, true
}

func (c *lru) put(key string, data []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if item, ok := c.items[key]; ok {
		item.data = data
		item.expiresAt = expiresAt
		c.evictList.MoveToFront(item.element)
		return
	}

	item := &lruItem{key: key, data: data, expiresAt: expiresAt}
	item.element = c.evictList.PushFront(key)
	c.items[key] = item

	for c.maxItems > 0 && len(c.items) > c.maxItems {
		c.evictOldestLocked()
	}
}

func (c *lru) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

func (c *lru) removeLocked(key string) {
	item, ok := c.items[key]
	if !ok {
		return
	}
	c.evictList.Remove(item.element)
	delete(c.items, key)
}

func (c *lru) evictOldestLocked() {
	elem := c.evictList.Back()
	if elem == nil {
		return
	}
	key := elem.Value.(string)
	c.evictList.Remove(elem)
	delete(c.items, key)
}

// trackFamilyKey remembers that key belongs to familyID, so Evict can find every
// search:*/list:* entry for that family without scanning the whole cache.
func (c *lru) trackFamilyKey(familyID, key string) {
	c.familyMu.Lock()
	defer c.familyMu.Unlock()
	set, ok := c.byFamily[familyID]
	if !ok {
		set = make(map[string]struct{})
		c.byFamily[familyID] = set
	}
	set[key] = struct{}{}
}

func (c *lru) familyKeys(familyID string) []string {
	c.familyMu.Lock()
	defer c.familyMu.Unlock()
	set := c.byFamily[familyID]
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	delete(c.byFamily, familyID)
	return keys
}
