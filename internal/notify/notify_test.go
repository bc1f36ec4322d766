// ABOUTME: Tests for the notification broadcaster
// ABOUTME: Covers per-key routing, wildcard delivery, context cleanup, and slow subscribers

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_RoutesBySessionKey(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx := context.Background()

	s1Ch, _ := b.Subscribe(ctx, "s1")
	s2Ch, _ := b.Subscribe(ctx, "s2")

	b.Publish(Notification{Type: TypeMessageCompleted, SessionKey: "s1", MessageID: "m1"})

	select {
	case n := <-s1Ch:
		assert.Equal(t, "m1", n.MessageID)
	case <-time.After(time.Second):
		t.Fatal("s1 subscriber never received")
	}

	select {
	case n := <-s2Ch:
		t.Fatalf("s2 subscriber received foreign notification: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_WildcardReceivesEverything(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	allCh, _ := b.SubscribeAll(context.Background())

	b.Publish(Notification{Type: TypeSessionCreated, SessionKey: "s1", OldKey: "draft", NewKey: "s1"})
	b.Publish(Notification{Type: TypeErrorOccurred, SessionKey: "s2", Err: "boom"})

	var got []Type
	for i := 0; i < 2; i++ {
		select {
		case n := <-allCh:
			got = append(got, n.Type)
		case <-time.After(time.Second):
			t.Fatal("wildcard subscriber starved")
		}
	}
	assert.Equal(t, []Type{TypeSessionCreated, TypeErrorOccurred}, got)
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "s1")
	cancel()

	// The channel closes once the cleanup goroutine runs.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcaster_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	b.Subscribe(context.Background(), "s1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overflow the subscriber buffer; publishes must not block.
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish(Notification{Type: TypeMessageCompleted, SessionKey: "s1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}
}

func TestBroadcaster_UnsubscribeIdempotent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, subID := b.Subscribe(context.Background(), "s1")
	b.Unsubscribe("s1", subID)
	b.Unsubscribe("s1", subID)
	b.Unsubscribe("never", "missing")
}
