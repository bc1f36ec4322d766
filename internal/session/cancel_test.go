// ABOUTME: Tests for the cancellation handle registry
// ABOUTME: Covers the one-live-handle invariant, atomic transfer, and scoped release

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateAbortsPrior(t *testing.T) {
	r := NewRegistry(nil)

	first := r.Create("s1")
	second := r.Create("s1")

	assert.Error(t, first.Context().Err(), "prior handle must be cancelled")
	assert.NoError(t, second.Context().Err())
	assert.True(t, r.Matches("s1", second.ID()))
	assert.False(t, r.Matches("s1", first.ID()))
}

func TestRegistry_Abort(t *testing.T) {
	r := NewRegistry(nil)
	h := r.Create("s1")

	assert.True(t, r.Abort("s1"))
	assert.Error(t, h.Context().Err())
	assert.False(t, r.Has("s1"))

	// Aborting twice is harmless.
	assert.False(t, r.Abort("s1"))
}

func TestRegistry_TransferMovesOwnership(t *testing.T) {
	r := NewRegistry(nil)
	h := r.Create(DraftKey)

	moved, err := r.Transfer(DraftKey, "s1")
	require.NoError(t, err)
	assert.Equal(t, h.ID(), moved.ID())

	assert.False(t, r.Has(DraftKey))
	assert.True(t, r.Matches("s1", h.ID()))
	assert.NoError(t, h.Context().Err(), "transfer must not cancel the stream")
}

func TestRegistry_TransferWithoutHandle(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Transfer(DraftKey, "s1")
	assert.ErrorIs(t, err, ErrNoHandle)
}

func TestRegistry_TransferRefusesAbortedHandle(t *testing.T) {
	r := NewRegistry(nil)
	h := r.Create(DraftKey)
	h.cancel() // aborted out of band, entry still registered

	_, err := r.Transfer(DraftKey, "s1")
	assert.ErrorIs(t, err, ErrNoHandle)
	assert.False(t, r.Has(DraftKey), "dead handle must be swept, not transferred")
}

func TestRegistry_TransferDisplacesExistingTarget(t *testing.T) {
	r := NewRegistry(nil)
	displaced := r.Create("s1")
	h := r.Create(DraftKey)

	moved, err := r.Transfer(DraftKey, "s1")
	require.NoError(t, err)
	assert.Equal(t, h.ID(), moved.ID())
	assert.Error(t, displaced.Context().Err())
}

func TestRegistry_ReleaseRequiresMatchingID(t *testing.T) {
	r := NewRegistry(nil)
	old := r.Create("s1")
	current := r.Create("s1")

	// A stale stream finishing must not remove the newer handle.
	assert.False(t, r.Release("s1", old.ID()))
	assert.True(t, r.Has("s1"))

	assert.True(t, r.Release("s1", current.ID()))
	assert.False(t, r.Has("s1"))
	assert.Error(t, current.Context().Err())
}

func TestRegistry_AbortAll(t *testing.T) {
	r := NewRegistry(nil)
	h1 := r.Create("s1")
	h2 := r.Create("s2")

	r.AbortAll()

	assert.Error(t, h1.Context().Err())
	assert.Error(t, h2.Context().Err())
	assert.False(t, r.Has("s1"))
	assert.False(t, r.Has("s2"))
}
