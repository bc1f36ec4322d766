// Package transport implements the wire connection to the conversation
// backend: a WebSocket stream for assistant responses and plain HTTP for
// persisted history.
package transport
