// ABOUTME: Tests for the duplicate-detection window cache
// ABOUTME: Covers window expiry, entry bounding, and close idempotence

package dedupe

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_DetectsDuplicateWithinWindow(t *testing.T) {
	c := New(time.Second, 16)
	defer c.Close()

	assert.False(t, c.Duplicate("k1"), "first sighting is not a duplicate")
	assert.True(t, c.Duplicate("k1"))
	assert.False(t, c.Duplicate("k2"))
}

func TestCache_WindowExpiry(t *testing.T) {
	c := New(30*time.Millisecond, 16)
	defer c.Close()

	assert.False(t, c.Duplicate("k1"))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, c.Duplicate("k1"), "entry outside the window is fresh again")
}

func TestCache_BoundsEntries(t *testing.T) {
	c := New(time.Minute, 4)
	defer c.Close()

	for i := 0; i < 10; i++ {
		c.Duplicate(fmt.Sprintf("k%d", i))
	}

	assert.LessOrEqual(t, c.Len(), 4)
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New(time.Second, 16)
	c.Close()
	c.Close()
}
