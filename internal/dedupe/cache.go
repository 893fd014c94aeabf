// ABOUTME: Thread-safe TTL cache for deduplicating posted messages.
// ABOUTME: Prevents UI retries with the same client message id from double-posting.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry stores the timestamp and list element for a cached id.
type entry struct {
	at   time.Time
	elem *list.Element
}

// Cache tracks recently seen client message ids. TTL-based and
// size-limited; oldest ids are evicted O(1) via a doubly-linked list.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // ids in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a dedupe cache with the given TTL and maximum size.
// A background goroutine periodically sweeps expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Seen atomically checks whether id was already recorded and records it
// if not. Returns true for a duplicate, false for a fresh id (now
// marked). A single atomic operation avoids check-then-mark races
// between concurrent posts of the same retry.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[id]; ok && time.Since(e.at) < c.ttl {
		return true
	}

	c.record(id)
	return false
}

// Forget removes an id so the next Seen reports it fresh. Called when
// the work a Seen mark guards fails and the client should be allowed
// to retry.
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[id]; ok {
		c.order.Remove(e.elem)
		delete(c.seen, id)
	}
}

// record adds or refreshes an id. Must be called with mu held.
func (c *Cache) record(id string) {
	now := time.Now()

	if e, exists := c.seen[id]; exists {
		e.at = now
		c.order.MoveToBack(e.elem)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(id)
	c.seen[id] = &entry{at: now, elem: elem}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, id)
}

// sweepLoop periodically removes expired entries.
func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes all expired entries.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, e := range c.seen {
		if now.Sub(e.at) > c.ttl {
			c.order.Remove(e.elem)
			delete(c.seen, id)
		}
	}
}

// Close stops the background sweep goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
