package cache

import (
	"sync"
	"time"
)

// Cache is a size-bounded cache with per-entry expiry. Entries are evicted
// least-recently-used first once the size budget is exceeded; expired
// entries are treated as missing and lazily removed.
type Cache interface {
	GetSize() int
	GetBudget() int
	Insert(key string, value interface{}, ttl time.Duration)
	Retrieve(key string) (interface{}, bool)
	Remove(key string)
	Clear()
}

type cacheNode struct {
	next      *cacheNode
	prev      *cacheNode
	key       string
	value     interface{}
	expiresAt time.Time
}

func (n *cacheNode) expired(now time.Time) bool {
	return !n.expiresAt.IsZero() && now.After(n.expiresAt)
}

type cache struct {
	head   *cacheNode
	tail   *cacheNode
	lookup map[string]*cacheNode
	budget int
	mutex  sync.Mutex
}

// NewCache initializes and returns a new cache with a given entry budget.
func NewCache(budget int) Cache {
	return &cache{
		lookup: make(map[string]*cacheNode),
		budget: budget,
	}
}

// GetSize returns the current number of entries in the cache.
func (c *cache) GetSize() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.lookup)
}

// GetBudget returns the entry budget of the cache.
func (c *cache) GetBudget() int {
	return c.budget
}

// Insert adds an item to the cache, replacing any previous entry under the
// same key. A ttl of zero means the entry never expires. The least recently
// used entries are evicted once the cache exceeds its budget.
func (c *cache) Insert(key string, value interface{}, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if node, found := c.lookup[key]; found {
		c.unlink(node)
		delete(c.lookup, key)
	}

	node := &cacheNode{
		key:   key,
		value: value,
		next:  c.head,
	}
	if ttl > 0 {
		node.expiresAt = time.Now().Add(ttl)
	}

	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}

	c.lookup[key] = node

	for len(c.lookup) > c.budget && c.tail != nil {
		evicted := c.tail
		c.unlink(evicted)
		delete(c.lookup, evicted.key)
	}
}

// Retrieve fetches an item from the cache by its key, if it exists and has
// not expired. A hit moves the entry to the front of the eviction order.
func (c *cache) Retrieve(key string) (interface{}, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	node, found := c.lookup[key]
	if !found {
		return nil, false
	}

	if node.expired(time.Now()) {
		c.unlink(node)
		delete(c.lookup, key)
		return nil, false
	}

	if node != c.head {
		c.unlink(node)

		node.next = c.head
		node.prev = nil
		if c.head != nil {
			c.head.prev = node
		}
		c.head = node
		if c.tail == nil {
			c.tail = node
		}
	}

	return node.value, true
}

// Remove deletes an entry from the cache, if it exists.
func (c *cache) Remove(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if node, found := c.lookup[key]; found {
		c.unlink(node)
		delete(c.lookup, key)
	}
}

// Clear removes all items from the cache, resetting it to an empty state.
func (c *cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.head = nil
	c.tail = nil
	c.lookup = make(map[string]*cacheNode)
}

func (c *cache) unlink(node *cacheNode) {
	if node.next != nil {
		node.next.prev = node.prev
	}
	if node.prev != nil {
		node.prev.next = node.next
	}
	if node == c.head {
		c.head = node.next
	}
	if node == c.tail {
		c.tail = node.prev
	}
}
