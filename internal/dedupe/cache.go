// ABOUTME: Window-based duplicate suppression for message submissions
// ABOUTME: Absorbs double-submits that arrive within the configured window

package dedupe

import (
	"sync"
	"time"
)

// Cache tracks recently seen submission keys inside a rolling time window.
// It is safe for concurrent use. Entry counts stay small (one per recent
// submission), so eviction scans linearly rather than keeping an order list.
type Cache struct {
	mu         sync.Mutex
	seen       map[string]time.Time
	window     time.Duration
	maxEntries int
	done       chan struct{}
	closed     bool
}

// New creates a cache that treats identical keys within window as
// duplicates, holding at most maxEntries keys. A background goroutine
// sweeps expired entries.
func New(window time.Duration, maxEntries int) *Cache {
	c := &Cache{
		seen:       make(map[string]time.Time),
		window:     window,
		maxEntries: maxEntries,
		done:       make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Duplicate atomically checks whether key was seen within the window and
// marks it seen if not. Returns true for duplicates.
func (c *Cache) Duplicate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if at, ok := c.seen[key]; ok && now.Sub(at) < c.window {
		return true
	}

	if len(c.seen) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.seen[key] = now
	return false
}

// evictOldestLocked drops the single oldest entry. Must hold c.mu.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, at := range c.seen {
		if oldestKey == "" || at.Before(oldest) {
			oldestKey = key
			oldest = at
		}
	}
	if oldestKey != "" {
		delete(c.seen, oldestKey)
	}
}

// Len reports how many keys are currently tracked.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// sweep periodically removes expired entries.
func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, at := range c.seen {
				if now.Sub(at) >= c.window {
					delete(c.seen, key)
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// Close stops the background sweeper. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
