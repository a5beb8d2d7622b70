package tilecache

import (
	"os"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/janelia-flyem/tiled/tiled"
)

// DefaultCapacity is the number of tiles held when no capacity is configured.
const DefaultCapacity = 1000

// EvictFunc is called with the key and path of every entry leaving the cache.
type EvictFunc func(key, path string)

// RemoveFile is an EvictFunc deleting the tile file of an evicted entry.
func RemoveFile(key, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		tiled.Warningf("Unable to delete evicted tile %s (%s): %v\n", path, key, err)
	}
}

// Cache is a goroutine-safe, capacity-bounded LRU table from fingerprint keys to
// tile paths.  Only table operations hold the lock; tile I/O happens outside.
type Cache struct {
	mu       sync.Mutex
	lru      *lru.Cache
	capacity int
	onEvict  EvictFunc
}

// New returns a cache holding at most capacity entries.  onEvict may be nil.
func New(capacity int, onEvict EvictFunc) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{
		lru:      lru.New(capacity),
		capacity: capacity,
		onEvict:  onEvict,
	}
	if onEvict != nil {
		c.lru.OnEvicted = func(key lru.Key, value interface{}) {
			onEvict(key.(string), value.(string))
		}
	}
	return c
}

// Get returns the tile path stored for key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, found := c.lru.Get(key)
	if !found {
		return "", false
	}
	return v.(string), true
}

// Put stores path under key and returns any path it replaced.  A replaced path
// other than the new one goes through the eviction callback.
func (c *Cache) Put(key, path string) (previous string, replaced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, found := c.lru.Get(key); found {
		previous, replaced = v.(string), true
	}
	c.lru.Add(key, path)
	if replaced && previous != path && c.onEvict != nil {
		c.onEvict(key, previous)
	}
	return
}

// PutIfAbsent stores path under key only if key is empty.  It returns the path
// that holds the slot afterwards and whether it was this call's path.
func (c *Cache) PutIfAbsent(key, path string) (winner string, inserted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, found := c.lru.Get(key); found {
		return v.(string), false
	}
	c.lru.Add(key, path)
	return path, true
}

// Remove deletes the entry for key, returning true if one existed.  The eviction
// callback runs for the removed entry.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, found := c.lru.Get(key); !found {
		return false
	}
	c.lru.Remove(key)
	return true
}

// RemoveIf deletes the entry for key only while it still maps to path, so a
// caller can't drop an entry another goroutine has since refilled.
func (c *Cache) RemoveIf(key, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, found := c.lru.Get(key); !found || v.(string) != path {
		return false
	}
	c.lru.Remove(key)
	return true
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Capacity returns the maximum number of entries.
func (c *Cache) Capacity() int {
	return c.capacity
}
