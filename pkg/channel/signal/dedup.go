package signal

import "sync"

const dedupCapacity = 1000

// dedupCache remembers the most recent delivery keys in insertion order.
//
// Keys live in a fixed ring; once full, each new key overwrites the oldest.
type dedupCache struct {
	mu    sync.Mutex
	ring  []string
	next  int
	size  int
	index map[string]struct{}
}

func newDedupCache(capacity int) *dedupCache {
	if capacity <= 0 {
		capacity = dedupCapacity
	}

	return &dedupCache{
		ring:  make([]string, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

// Seen reports whether key was already recorded and records it if not.
func (c *dedupCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[key]; ok {
		return true
	}

	if c.size == len(c.ring) {
		delete(c.index, c.ring[c.next])
	} else {
		c.size++
	}

	c.ring[c.next] = key
	c.index[key] = struct{}{}
	c.next = (c.next + 1) % len(c.ring)

	return false
}

func (c *dedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
