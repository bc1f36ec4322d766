// Package stream ingests the ordered event sequence of one assistant
// response and materializes it into session state.
//
// # Events
//
// A stream is Start followed by any number of Progress, ToolUse,
// ToolComplete, and Content frames, ending in Complete or Error. Progress
// frames carry the cumulative text so far, not deltas, which makes
// retransmitted frames natural no-ops.
//
// # Pipeline
//
// The Pipeline applies each event under the serializer lock for the
// session key, discarding events whose cancellation handle no longer
// matches the registry (the session was aborted or taken over). Its
// terminal path always releases the handle and never leaves a session
// stuck in streaming.
//
// # Resume
//
// The Detector inspects a freshly loaded history tail to decide whether a
// reply was in flight when the client was interrupted, and recovers it by
// bounded polling of the history endpoint.
package stream
