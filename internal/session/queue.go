// ABOUTME: Per-session backlog of user messages deferred behind an active stream
// ABOUTME: Deduplicates double-submits and snapshots the queue for reload recovery

package session

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/dedupe"
)

// SnapshotSaver persists a best-effort copy of a session's pending queue so
// it survives a client reload. Attachments are not snapshot-able and are
// dropped by implementations.
type SnapshotSaver interface {
	SaveBacklog(key string, pending []QueuedMessage)
}

// Backlog is the per-session FIFO of messages submitted while a stream was
// already active. Callers must invoke its methods under the Serializer lock
// for the affected key.
type Backlog struct {
	store  *Store
	dedupe *dedupe.Cache
	saver  SnapshotSaver
	logger *slog.Logger
}

// NewBacklog creates a backlog over the given store. The dedupe cache
// absorbs duplicate submits; saver may be nil to disable persistence.
func NewBacklog(store *Store, dd *dedupe.Cache, saver SnapshotSaver, logger *slog.Logger) *Backlog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backlog{
		store:  store,
		dedupe: dd,
		saver:  saver,
		logger: logger.With("component", "backlog"),
	}
}

// Enqueue appends a message to the queue for key. Returns nil, false when
// the submission is a duplicate within the dedup window.
func (b *Backlog) Enqueue(key, content string, attachments []Attachment) (*QueuedMessage, bool) {
	if b.dedupe != nil && b.dedupe.Duplicate(key+"\x00"+content) {
		b.logger.Debug("duplicate submission absorbed", "session_key", key)
		return nil, false
	}

	qm := &QueuedMessage{
		ID:          uuid.New().String(),
		Content:     content,
		Attachments: attachments,
		SubmittedAt: time.Now(),
	}
	b.store.mutate(key, func(sess *Session) {
		sess.Pending = append(sess.Pending, qm)
	})
	b.persist(key)
	return qm, true
}

// DequeueNext pops the oldest queued message, but only when the session is
// idle. Returns nil otherwise.
func (b *Backlog) DequeueNext(key string) *QueuedMessage {
	var qm *QueuedMessage
	b.store.mutate(key, func(sess *Session) {
		if sess.Status != StatusIdle || len(sess.Pending) == 0 {
			return
		}
		qm = sess.Pending[0]
		sess.Pending = sess.Pending[1:]
	})
	if qm != nil {
		b.persist(key)
	}
	return qm
}

// Remove deletes the queued message with the given id.
func (b *Backlog) Remove(key, id string) bool {
	removed := false
	b.store.mutate(key, func(sess *Session) {
		for i, qm := range sess.Pending {
			if qm.ID == id {
				sess.Pending = append(sess.Pending[:i], sess.Pending[i+1:]...)
				removed = true
				return
			}
		}
	})
	if removed {
		b.persist(key)
	}
	return removed
}

// Edit replaces the content of the queued message with the given id.
func (b *Backlog) Edit(key, id, newContent string) bool {
	edited := false
	b.store.mutate(key, func(sess *Session) {
		for _, qm := range sess.Pending {
			if qm.ID == id {
				qm.Content = newContent
				edited = true
				return
			}
		}
	})
	if edited {
		b.persist(key)
	}
	return edited
}

// Clear drops every queued message for key.
func (b *Backlog) Clear(key string) {
	b.store.mutate(key, func(sess *Session) {
		sess.Pending = nil
	})
	b.persist(key)
}

// Restore loads a previously snapshot queue, used once at startup.
// Restored entries keep their original ids and submit times.
func (b *Backlog) Restore(key string, pending []QueuedMessage) {
	if len(pending) == 0 {
		return
	}
	b.store.mutate(key, func(sess *Session) {
		for i := range pending {
			qm := pending[i]
			sess.Pending = append(sess.Pending, &qm)
		}
	})
}

// Len reports the queue depth for key.
func (b *Backlog) Len(key string) int {
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()
	if sess, ok := b.store.sessions[key]; ok {
		return len(sess.Pending)
	}
	return 0
}

// persist hands a copy of the queue to the saver, best effort.
func (b *Backlog) persist(key string) {
	if b.saver == nil {
		return
	}
	var pending []QueuedMessage
	b.store.mu.RLock()
	if sess, ok := b.store.sessions[key]; ok {
		for _, qm := range sess.Pending {
			pending = append(pending, *qm)
		}
	}
	b.store.mu.RUnlock()
	b.saver.SaveBacklog(key, pending)
}
