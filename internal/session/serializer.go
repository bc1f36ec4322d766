// ABOUTME: Per-key FIFO mutual exclusion for session mutations
// ABOUTME: Chained waiters guarantee submission-order execution with no cross-key blocking

package session

import (
	"sync"
)

// Serializer runs functions with strict per-key FIFO mutual exclusion:
// for a given key, Run does not begin executing fn until every previously
// submitted Run for the same key has fully completed. Different keys never
// block each other.
//
// Run must not be nested for the same key; that would wait on itself.
type Serializer struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// NewSerializer creates an empty serializer.
func NewSerializer() *Serializer {
	return &Serializer{
		tails: make(map[string]chan struct{}),
	}
}

// Run executes fn once all earlier Run calls for key have finished.
// The error from fn is returned unchanged.
func (s *Serializer) Run(key string, fn func() error) error {
	s.mu.Lock()
	prev := s.tails[key]
	done := make(chan struct{})
	s.tails[key] = done
	s.mu.Unlock()

	if prev != nil {
		<-prev
	}

	defer func() {
		close(done)
		s.mu.Lock()
		if tail, ok := s.tails[key]; ok && tail == done {
			delete(s.tails, key)
		}
		s.mu.Unlock()
	}()

	return fn()
}
