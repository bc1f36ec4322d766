// ABOUTME: In-memory session store, the single source of truth for session state
// ABOUTME: Every mutation bumps the session version; snapshots are deep copies

package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the referenced session or message does not exist.
var ErrNotFound = errors.New("not found")

// Patch describes a partial update applied to a message by
// MutateLastAssistant or MutateMessage. Nil fields are left untouched.
// A non-empty Role that is not RoleAssistant causes the whole patch to
// be refused.
type Patch struct {
	Role       Role
	ID         *string
	Content    *string
	ElapsedMS  *int64
	ToolUsages []ToolUsage
	AddToolUse *ToolUsage
}

// Store maps session keys to session state. All access is safe for
// concurrent use; logical operation ordering per key is the Serializer's
// job, not the Store's.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	active      string
	maxSessions int
	onIdle      func(key string)
	logger      *slog.Logger
}

// NewStore creates a session store bounded to maxSessions cached entries.
// Pass nil logger for slog.Default.
func NewStore(maxSessions int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		logger:      logger.With("component", "session-store"),
	}
}

// SetIdleObserver registers a callback fired whenever a session's status
// transitions to StatusIdle. The callback runs on its own goroutine so the
// caller can safely re-enter the store or the serializer.
func (s *Store) SetIdleObserver(fn func(key string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onIdle = fn
}

// getOrCreate returns the session for key, creating it lazily. Must be
// called with s.mu held.
func (s *Store) getOrCreate(key string) *Session {
	sess, ok := s.sessions[key]
	if !ok {
		sess = &Session{
			Key:         key,
			Status:      StatusIdle,
			LastUpdated: time.Now(),
		}
		s.sessions[key] = sess
		s.logger.Debug("session created", "session_key", key)
	}
	return sess
}

// mutate applies fn to the session for key, bumping version and lastUpdated.
func (s *Store) mutate(key string, fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreate(key)
	fn(sess)
	sess.Version++
	sess.LastUpdated = time.Now()
}

// Status returns the current status for key, creating the session if needed.
func (s *Store) Status(key string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(key).Status
}

// Version returns the current mutation counter for key.
func (s *Store) Version(key string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[key]; ok {
		return sess.Version
	}
	return 0
}

// ReplaceMessages swaps the whole transcript for key.
func (s *Store) ReplaceMessages(key string, messages []*Message) {
	s.mutate(key, func(sess *Session) {
		sess.Messages = messages
	})
}

// AppendMessage appends a message to the transcript for key.
func (s *Store) AppendMessage(key string, msg *Message) {
	s.mutate(key, func(sess *Session) {
		sess.Messages = append(sess.Messages, msg)
	})
}

// MutateLastAssistant applies patch to the most recent assistant message,
// creating one if the session has none yet. The patch is refused with a
// warning when it attempts to change the message role to anything other
// than assistant; refusing beats corrupting state on a malformed event.
// Returns the id of the patched message, or "" when refused.
func (s *Store) MutateLastAssistant(key string, patch Patch) string {
	if patch.Role != "" && patch.Role != RoleAssistant {
		s.logger.Warn("refusing role-changing patch",
			"session_key", key,
			"role", string(patch.Role))
		return ""
	}

	var id string
	s.mutate(key, func(sess *Session) {
		var target *Message
		for i := len(sess.Messages) - 1; i >= 0; i-- {
			if sess.Messages[i].Role == RoleAssistant {
				target = sess.Messages[i]
				break
			}
		}
		if target == nil {
			target = &Message{
				ID:        uuid.New().String(),
				Role:      RoleAssistant,
				CreatedAt: time.Now(),
			}
			sess.Messages = append(sess.Messages, target)
		}
		applyPatch(target, patch)
		id = target.ID
	})
	return id
}

// MutateMessage applies patch to the message with the given id. Returns
// false when no such message exists or the patch is refused.
func (s *Store) MutateMessage(key, messageID string, patch Patch) bool {
	if patch.Role != "" && patch.Role != RoleAssistant {
		s.logger.Warn("refusing role-changing patch",
			"session_key", key,
			"message_id", messageID,
			"role", string(patch.Role))
		return false
	}

	found := false
	s.mutate(key, func(sess *Session) {
		for _, msg := range sess.Messages {
			if msg.ID == messageID {
				applyPatch(msg, patch)
				found = true
				return
			}
		}
	})
	return found
}

func applyPatch(msg *Message, patch Patch) {
	if patch.ID != nil {
		msg.ID = *patch.ID
	}
	if patch.Content != nil {
		msg.Content = *patch.Content
	}
	if patch.ElapsedMS != nil {
		msg.ElapsedMS = *patch.ElapsedMS
	}
	if patch.ToolUsages != nil {
		msg.ToolUsages = patch.ToolUsages
	}
	if patch.AddToolUse != nil {
		msg.ToolUsages = append(msg.ToolUsages, *patch.AddToolUse)
	}
}

// SetStatus updates the session status. A transition into StatusIdle fires
// the idle observer on a fresh goroutine.
func (s *Store) SetStatus(key string, status Status) {
	var fire func(string)
	s.mutate(key, func(sess *Session) {
		if sess.Status != StatusIdle && status == StatusIdle {
			fire = s.onIdle
		}
		sess.Status = status
	})
	if fire != nil {
		go fire(key)
	}
}

// SetError records the last failure text for key; empty clears it.
func (s *Store) SetError(key, text string) {
	s.mutate(key, func(sess *Session) {
		sess.Err = text
	})
}

// AddActiveTool marks a tool as currently executing. Duplicates are absorbed.
func (s *Store) AddActiveTool(key, name string) {
	s.mutate(key, func(sess *Session) {
		for _, t := range sess.ActiveTools {
			if t == name {
				return
			}
		}
		sess.ActiveTools = append(sess.ActiveTools, name)
	})
}

// RemoveActiveTool clears one executing tool marker.
func (s *Store) RemoveActiveTool(key, name string) {
	s.mutate(key, func(sess *Session) {
		for i, t := range sess.ActiveTools {
			if t == name {
				sess.ActiveTools = append(sess.ActiveTools[:i], sess.ActiveTools[i+1:]...)
				return
			}
		}
	})
}

// ClearActiveTools drops all executing tool markers.
func (s *Store) ClearActiveTools(key string) {
	s.mutate(key, func(sess *Session) {
		sess.ActiveTools = nil
	})
}

// ForgetAfter marks every message after messageID as soft-deleted. The
// messages are kept but excluded from snapshots until restored.
func (s *Store) ForgetAfter(key, messageID string) error {
	err := ErrNotFound
	s.mutate(key, func(sess *Session) {
		for _, msg := range sess.Messages {
			if msg.ID == messageID {
				sess.ForgottenAfter = messageID
				err = nil
				return
			}
		}
	})
	return err
}

// RestoreForgotten clears the soft-delete boundary.
func (s *Store) RestoreForgotten(key string) {
	s.mutate(key, func(sess *Session) {
		sess.ForgottenAfter = ""
	})
}

// SetTitle updates the session title. A manual title is never overwritten
// by a derived one.
func (s *Store) SetTitle(key, title string, manual bool) bool {
	updated := false
	s.mutate(key, func(sess *Session) {
		if sess.TitleManual && !manual {
			return
		}
		sess.Title = title
		if manual {
			sess.TitleManual = true
		}
		updated = true
	})
	return updated
}

// Snapshot returns a deep, read-only copy of the session with the forgotten
// suffix filtered out.
func (s *Store) Snapshot(key string) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[key]
	if !ok {
		return &Snapshot{Key: key, Status: StatusIdle}
	}

	snap := &Snapshot{
		Key:         sess.Key,
		Status:      sess.Status,
		Err:         sess.Err,
		Title:       sess.Title,
		Version:     sess.Version,
		LastUpdated: sess.LastUpdated,
	}
	for _, msg := range sess.Messages {
		snap.Messages = append(snap.Messages, *msg.Clone())
		if sess.ForgottenAfter != "" && msg.ID == sess.ForgottenAfter {
			break
		}
	}
	for _, qm := range sess.Pending {
		snap.Pending = append(snap.Pending, *qm.Clone())
	}
	snap.ActiveTools = append(snap.ActiveTools, sess.ActiveTools...)
	return snap
}

// CopySession deep-copies all state from oldKey into newKey and resets the
// old session to an empty idle shell. The copy and reset happen under one
// lock acquisition so no reader observes a half-moved session.
func (s *Store) CopySession(oldKey, newKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.getOrCreate(oldKey)
	dst := s.getOrCreate(newKey)

	dst.Status = src.Status
	dst.Err = src.Err
	dst.ForgottenAfter = src.ForgottenAfter
	dst.Title = src.Title
	dst.TitleManual = src.TitleManual
	dst.Messages = make([]*Message, 0, len(src.Messages))
	for _, msg := range src.Messages {
		dst.Messages = append(dst.Messages, msg.Clone())
	}
	dst.Pending = append([]*QueuedMessage(nil), src.Pending...)
	dst.ActiveTools = append([]string(nil), src.ActiveTools...)
	dst.Version++
	dst.LastUpdated = time.Now()

	src.Messages = nil
	src.Pending = nil
	src.ActiveTools = nil
	src.Err = ""
	src.ForgottenAfter = ""
	src.Status = StatusIdle
	src.Version++
	src.LastUpdated = time.Now()
}

// SetActive marks key as the process-wide active session pointer.
func (s *Store) SetActive(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(key)
	s.active = key
}

// ActiveKey returns the current active session key.
func (s *Store) ActiveKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SweepInactive evicts least-recently-updated sessions beyond the cache
// bound and returns the evicted keys. The active session is never evicted.
func (s *Store) SweepInactive() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxSessions <= 0 || len(s.sessions) <= s.maxSessions {
		return nil
	}

	var evicted []string
	for len(s.sessions) > s.maxSessions {
		var oldestKey string
		var oldest time.Time
		for key, sess := range s.sessions {
			if key == s.active {
				continue
			}
			if oldestKey == "" || sess.LastUpdated.Before(oldest) {
				oldestKey = key
				oldest = sess.LastUpdated
			}
		}
		if oldestKey == "" {
			break
		}
		delete(s.sessions, oldestKey)
		evicted = append(evicted, oldestKey)
		s.logger.Debug("session evicted", "session_key", oldestKey)
	}
	return evicted
}

// Len reports how many sessions are currently cached.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
