// ABOUTME: Cancellation handle lifecycle, kept separate from session state
// ABOUTME: At most one live handle per key; transfer moves ownership, never copies

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrNoHandle indicates the key holds no live cancellation handle.
var ErrNoHandle = errors.New("no cancellation handle for key")

// Handle represents the ability to abort one in-flight stream. It is bound
// to exactly one session key at a time; the Registry moves it during an
// identity transition.
type Handle struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

// ID returns the handle's unique identifier, used to detect stale streams.
func (h *Handle) ID() string { return h.id }

// Context is cancelled when the handle is aborted. Transport reads should
// run under it.
func (h *Handle) Context() context.Context { return h.ctx }

// Registry owns the per-key cancellation handles. All methods are safe for
// concurrent use; transfer and abort are atomic with respect to each other.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handles: make(map[string]*Handle),
		logger:  logger.With("component", "cancel-registry"),
	}
}

// Create registers a fresh handle for key. A prior handle for the same key
// is aborted first, preserving the at-most-one-live-handle invariant.
func (r *Registry) Create(key string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.handles[key]; ok {
		prev.cancel()
		r.logger.Debug("aborted prior handle on create", "session_key", key, "handle_id", prev.id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:     uuid.New().String(),
		ctx:    ctx,
		cancel: cancel,
	}
	r.handles[key] = h
	return h
}

// Abort cancels and removes the handle for key. Returns false when none
// was registered. Aborting twice is harmless.
func (r *Registry) Abort(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[key]
	if !ok {
		return false
	}
	h.cancel()
	delete(r.handles, key)
	return true
}

// Transfer moves the handle from oldKey to newKey. A handle that was
// aborted concurrently is not transferred: the caller gets ErrNoHandle
// instead of a dead handle silently registered under newKey. Any handle
// already present under newKey is aborted first.
func (r *Registry) Transfer(oldKey, newKey string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[oldKey]
	if !ok {
		return nil, ErrNoHandle
	}
	if h.ctx.Err() != nil {
		delete(r.handles, oldKey)
		return nil, ErrNoHandle
	}

	if prev, ok := r.handles[newKey]; ok {
		prev.cancel()
		r.logger.Debug("aborted displaced handle on transfer", "session_key", newKey, "handle_id", prev.id)
	}

	delete(r.handles, oldKey)
	r.handles[newKey] = h
	return h, nil
}

// Has reports whether key currently holds a live handle.
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[key]
	return ok
}

// Matches reports whether the registered handle for key has the given id.
// A stream whose handle no longer matches must discard its events.
func (r *Registry) Matches(key, handleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[key]
	return ok && h.id == handleID
}

// Release cancels and removes the handle for key, but only when it still
// has the given id. A stream's terminal path uses this so a newer stream's
// handle is never stomped.
func (r *Registry) Release(key, handleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[key]
	if !ok || h.id != handleID {
		return false
	}
	h.cancel()
	delete(r.handles, key)
	return true
}

// AbortAll cancels and removes every registered handle.
func (r *Registry) AbortAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, h := range r.handles {
		h.cancel()
		delete(r.handles, key)
	}
}
