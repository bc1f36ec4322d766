// ABOUTME: Identity transition from the draft session key to its assigned id
// ABOUTME: Also hosts the stream completion hooks that fire notifications and titles

package manager

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/2389/coven-chat/internal/notify"
	"github.com/2389/coven-chat/internal/session"
)

const titleMaxLen = 47

// errStaleStream indicates a start frame from a stream that no longer owns
// the session's cancellation handle; its transition request is refused.
var errStaleStream = errors.New("stream no longer owns the session handle")

// TransitionSession migrates state from the draft key to the key the
// backend assigned. Only the stream currently holding the key's handle may
// trigger the move; a replaced or aborted stream delivering a late start
// frame is refused here, so a finished transition never blocks the next
// conversation started on the same draft key. A duplicate start racing the
// in-flight move converges on the first assignment.
func (m *Manager) TransitionSession(oldKey, newKey, handleID string) (string, error) {
	if !m.registry.Matches(oldKey, handleID) {
		return "", errStaleStream
	}

	m.tmu.Lock()
	if assigned, ok := m.pending[oldKey]; ok {
		m.tmu.Unlock()
		m.logger.Debug("transition already in flight",
			"draft_key", oldKey,
			"assigned_key", assigned,
			"requested_key", newKey)
		return assigned, nil
	}
	m.pending[oldKey] = newKey
	m.tmu.Unlock()

	// State moves under the new key's serializer. The caller may hold the
	// draft key's lock; those are independent chains.
	err := m.serializer.Run(newKey, func() error {
		m.store.CopySession(oldKey, newKey)
		if _, terr := m.registry.Transfer(oldKey, newKey); terr != nil {
			// The handle was aborted between the ownership check and the
			// move. The stream either finished or was stopped; the moved
			// session must not sit in streaming with nothing feeding it.
			m.store.SetStatus(newKey, session.StatusIdle)
		}
		if m.store.ActiveKey() == oldKey {
			m.store.SetActive(newKey)
		}
		return nil
	})

	m.tmu.Lock()
	delete(m.pending, oldKey)
	m.tmu.Unlock()

	if err != nil {
		return "", err
	}

	m.logger.Info("session identity assigned",
		"draft_key", oldKey,
		"assigned_key", newKey)
	m.notifier.Publish(notify.Notification{
		Type:       notify.TypeSessionCreated,
		SessionKey: newKey,
		OldKey:     oldKey,
		NewKey:     newKey,
	})

	// A send that enqueued against oldKey after the copy swept the queue
	// belongs to the next conversation on that key; release it.
	go m.drainQueue(oldKey)

	return newKey, nil
}

// transitionPending reports whether an identity move away from key is in
// flight. Sends observed during this window are queued, not applied.
func (m *Manager) transitionPending(key string) bool {
	m.tmu.Lock()
	defer m.tmu.Unlock()
	_, ok := m.pending[key]
	return ok
}

// StreamCompleted runs after a stream finishes cleanly: derive a title if
// the session has none, then notify subscribers.
func (m *Manager) StreamCompleted(key, messageID string) {
	_ = m.serializer.Run(key, func() error {
		snap := m.store.Snapshot(key)
		if snap != nil && snap.Title == "" {
			if title := deriveTitle(snap.Messages); title != "" {
				m.store.SetTitle(key, title, false)
				m.notifier.Publish(notify.Notification{
					Type:       notify.TypeTitleUpdated,
					SessionKey: key,
					Title:      title,
				})
			}
		}
		return nil
	})

	m.notifier.Publish(notify.Notification{
		Type:       notify.TypeMessageCompleted,
		SessionKey: key,
		MessageID:  messageID,
	})
}

// StreamFailed notifies subscribers that a stream ended in error.
func (m *Manager) StreamFailed(key, errText string) {
	m.notifier.Publish(notify.Notification{
		Type:       notify.TypeErrorOccurred,
		SessionKey: key,
		Err:        errText,
	})
}

// deriveTitle builds a display title from the first user message, truncated
// on a rune boundary with a trailing ellipsis.
func deriveTitle(messages []session.Message) string {
	for _, msg := range messages {
		if msg.Role != session.RoleUser {
			continue
		}
		title := strings.TrimSpace(strings.ReplaceAll(msg.Content, "\n", " "))
		if title == "" {
			return ""
		}
		if utf8.RuneCountInString(title) <= titleMaxLen {
			return title
		}
		runes := []rune(title)
		return strings.TrimSpace(string(runes[:titleMaxLen])) + "..."
	}
	return ""
}
