// ABOUTME: In-memory fan-out broadcaster for typed session notifications
// ABOUTME: Publishes to per-key subscribers plus wildcard subscribers, never blocking

package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// wildcardKey receives every notification regardless of session.
	wildcardKey = "*"
)

// Type tags the closed set of notification events.
type Type string

const (
	TypeSessionCreated   Type = "session_created"
	TypeMessageCompleted Type = "message_completed"
	TypeTitleUpdated     Type = "title_updated"
	TypeErrorOccurred    Type = "error_occurred"
)

// Notification is one event emitted by the core for external collaborators.
// SessionKey is always set; the remaining fields depend on Type.
type Notification struct {
	Type       Type
	SessionKey string
	OldKey     string // session_created: the draft key that was replaced
	NewKey     string // session_created: the assigned permanent key
	MessageID  string // message_completed
	Title      string // title_updated
	Err        string // error_occurred
}

// Broadcaster provides in-memory pub/sub for Notifications. Subscribers
// register for one session key (or everything) and receive events as they
// are published.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Notification // sessionKey -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Notification),
		logger:      logger.With("component", "notify"),
	}
}

// Subscribe registers a subscriber for notifications on the given session
// key. Returns the receive channel and a subscription ID. The subscription
// is cleaned up automatically when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionKey string) (<-chan Notification, string) {
	subID := uuid.New().String()
	ch := make(chan Notification, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[sessionKey]; !ok {
		b.subscribers[sessionKey] = make(map[string]chan Notification)
	}
	b.subscribers[sessionKey][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "session_key", sessionKey, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sessionKey, subID)
	}()

	return ch, subID
}

// SubscribeAll registers a subscriber for every notification.
func (b *Broadcaster) SubscribeAll(ctx context.Context) (<-chan Notification, string) {
	return b.Subscribe(ctx, wildcardKey)
}

// Publish delivers n to subscribers of n.SessionKey and to wildcard
// subscribers. Non-blocking: the event is dropped for subscribers whose
// channels are full.
func (b *Broadcaster) Publish(n Notification) {
	b.mu.RLock()
	var targets []chan Notification
	for _, key := range []string{n.SessionKey, wildcardKey} {
		for _, ch := range b.subscribers[key] {
			targets = append(targets, ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- n:
		default:
			b.logger.Debug("dropped notification for slow subscriber",
				"session_key", n.SessionKey,
				"type", string(n.Type))
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(sessionKey, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionKey]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, sessionKey)
	}

	b.logger.Debug("subscriber removed", "session_key", sessionKey, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}
}
