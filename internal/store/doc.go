// Package store provides local SQLite persistence for the pending backlog
// snapshot. Conversation history itself is owned by the remote backend and
// is never stored here.
package store
