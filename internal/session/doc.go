// Package session holds the conversation session state model and the
// concurrency primitives that guard it.
//
// # Store
//
// The Store is the single source of truth for per-session state: the
// message transcript, status, pending backlog, active tool markers, and a
// monotonic version counter bumped on every mutation. Callers read sessions
// through deep-copied Snapshots; nothing mutable escapes.
//
// # Serializer
//
// The Serializer provides strict per-key FIFO mutual exclusion. All logical
// operations against one session run through it so a queued send can never
// interleave its writes with an in-flight stream's completion handler.
// Operations on different keys never block each other.
//
// # Registry
//
// The cancellation Registry tracks at most one live Handle per session key,
// deliberately outside the Store so resource lifetimes are not coupled to
// state snapshots. A session's status is streaming if and only if the
// registry holds a handle for its key. Handles transfer (never copy) when a
// draft session takes on its permanent identity.
//
// # Backlog
//
// The Backlog is the per-session FIFO of user messages deferred because a
// stream was already active. Duplicate submits inside a short window are
// absorbed, and the queue is snapshot to local storage so it survives a
// reload.
package session
