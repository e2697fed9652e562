// Package cache keeps recent compliance checks and renewal reminder claims
// close to the API so repeated reads skip the repository.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultLocalSize = 10000

// LRUCache holds checks and reminder claims in process memory.
// It is the whole cache on a single node and the near tier of TieredCache.
type LRUCache struct {
	mu        sync.RWMutex
	capacity  int
	entries   map[string]*list.Element
	recency   *list.List
	reminders map[string]time.Time
	now       func() time.Time
}

type lruEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// NewLRUCache returns an in-memory cache bounded to capacity entries.
// A non-positive capacity uses the default.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = defaultLocalSize
	}
	return &LRUCache{
		capacity:  capacity,
		entries:   make(map[string]*list.Element),
		recency:   list.New(),
		reminders: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Get returns the cached bytes, or nil when the key is absent or stale.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	k, err := scopedKey(tenantID, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[k]
	if !ok {
		return nil, nil
	}
	e := elem.Value.(*lruEntry)
	if !c.now().Before(e.expires) {
		c.drop(elem)
		return nil, nil
	}
	c.recency.MoveToFront(elem)
	return e.value, nil
}

// Set stores value until ttl elapses, evicting the least recently read
// entries once capacity is exceeded.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	k, err := scopedKey(tenantID, key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(ttl)
	if elem, ok := c.entries[k]; ok {
		e := elem.Value.(*lruEntry)
		e.value, e.expires = value, expires
		c.recency.MoveToFront(elem)
		return nil
	}

	c.entries[k] = c.recency.PushFront(&lruEntry{key: k, value: value, expires: expires})
	for c.recency.Len() > c.capacity {
		c.drop(c.recency.Back())
	}
	return nil
}

// Delete removes key if present.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	k, err := scopedKey(tenantID, key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[k]; ok {
		c.drop(elem)
	}
	return nil
}

func (c *LRUCache) GetCheck(ctx context.Context, tenantID string, coiID string) (*domain.ComplianceCheck, error) {
	return loadCheck(ctx, c, tenantID, coiID)
}

func (c *LRUCache) SetCheck(ctx context.Context, tenantID string, coiID string, check *domain.ComplianceCheck, ttl time.Duration) error {
	return storeCheck(ctx, c, tenantID, coiID, check, ttl)
}

// ClaimReminder records the claim unless a live one exists. Claims live
// outside the LRU list so check traffic never evicts them.
func (c *LRUCache) ClaimReminder(ctx context.Context, tenantID string, key string, window time.Duration) (bool, error) {
	k, err := scopedKey(tenantID, reminderKey(key))
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if until, ok := c.reminders[k]; ok && now.Before(until) {
		return false, nil
	}
	if len(c.reminders) >= c.capacity {
		c.pruneReminders(now)
	}
	c.reminders[k] = now.Add(window)
	return true, nil
}

// ReleaseReminder forgets a claim.
func (c *LRUCache) ReleaseReminder(ctx context.Context, tenantID string, key string) error {
	k, err := scopedKey(tenantID, reminderKey(key))
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.reminders, k)
	c.mu.Unlock()
	return nil
}

func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close empties the cache. It stays usable afterwards.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.recency = list.New()
	c.reminders = make(map[string]time.Time)
	return nil
}

// Stats reports how many checks are held and the configured capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recency.Len(), c.capacity
}

// pruneReminders drops lapsed claims. Caller holds the lock.
func (c *LRUCache) pruneReminders(now time.Time) {
	for k, until := range c.reminders {
		if !now.Before(until) {
			delete(c.reminders, k)
		}
	}
}

// drop unlinks elem. Caller holds the lock.
func (c *LRUCache) drop(elem *list.Element) {
	if elem == nil {
		return
	}
	c.recency.Remove(elem)
	delete(c.entries, elem.Value.(*lruEntry).key)
}
