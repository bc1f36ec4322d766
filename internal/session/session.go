// ABOUTME: Core types for the conversation session state model
// ABOUTME: Sessions are keyed by string; the reserved key "draft" marks a not-yet-persisted session

package session

import (
	"time"
)

// DraftKey is the reserved session key for a conversation that the backend
// has not yet assigned a durable identifier.
const DraftKey = "draft"

// Status describes what a session is currently doing.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
	StatusDraining  Status = "draining_queue"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Attachment is a file attached to a user message.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// ToolUsage records one tool invocation made while producing a message.
type ToolUsage struct {
	ID        string
	Name      string
	ToolUseID string
	Output    string
	ElapsedMS int64
}

// Message is one entry in a session transcript. Only the most recent
// assistant message of a streaming session may be mutated after creation;
// everything earlier is immutable once appended.
type Message struct {
	ID          string
	Role        Role
	Content     string
	Attachments []Attachment
	ToolUsages  []ToolUsage
	CreatedAt   time.Time
	ElapsedMS   int64
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Attachments != nil {
		c.Attachments = make([]Attachment, len(m.Attachments))
		copy(c.Attachments, m.Attachments)
	}
	if m.ToolUsages != nil {
		c.ToolUsages = make([]ToolUsage, len(m.ToolUsages))
		copy(c.ToolUsages, m.ToolUsages)
	}
	return &c
}

// QueuedMessage is a user submission deferred because a stream was already
// active for its session.
type QueuedMessage struct {
	ID          string
	Content     string
	Attachments []Attachment
	SubmittedAt time.Time
}

// Clone returns a copy that shares no slice storage with the original.
func (q *QueuedMessage) Clone() *QueuedMessage {
	c := *q
	if q.Attachments != nil {
		c.Attachments = make([]Attachment, len(q.Attachments))
		copy(c.Attachments, q.Attachments)
	}
	return &c
}

// Session holds all local state for one conversation. Fields are mutated
// only by the Store; callers observe sessions through Snapshot.
type Session struct {
	Key            string
	Status         Status
	Messages       []*Message
	Err            string
	Pending        []*QueuedMessage
	ActiveTools    []string
	ForgottenAfter string // message id; messages after it are soft-deleted
	Title          string
	TitleManual    bool
	Version        uint64
	LastUpdated    time.Time
}

// Snapshot is a read-only, deep copy of a session handed to callers.
// The forgotten suffix is filtered out of Messages.
type Snapshot struct {
	Key         string
	Status      Status
	Messages    []Message
	Err         string
	Pending     []QueuedMessage
	ActiveTools []string
	Title       string
	Version     uint64
	LastUpdated time.Time
}

// LastMessage returns the final visible message, or nil when empty.
func (s *Snapshot) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}
