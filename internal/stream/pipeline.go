// ABOUTME: Applies ordered stream events to session state through the serializer
// ABOUTME: Discards stale events after an abort and always cleans up on the terminal path

package stream

import (
	"log/slog"
	"time"

	"github.com/2389/coven-chat/internal/session"
)

// Sink receives lifecycle callbacks from the pipeline. The manager
// implements it to run identity transitions, emit notifications, and derive
// titles.
type Sink interface {
	// TransitionSession migrates state from the draft key to the assigned
	// key. handleID identifies the requesting stream; only the stream that
	// currently owns the key's handle may move it. Returns the key the
	// stream should continue under.
	TransitionSession(oldKey, newKey, handleID string) (string, error)

	// StreamCompleted fires after a complete event has been applied.
	StreamCompleted(key, messageID string)

	// StreamFailed fires after an error event has been applied.
	StreamFailed(key, errText string)
}

// Pipeline materializes incrementally arriving response fragments into
// session state. One Consume call handles one stream; events are applied in
// transport order, each under the serializer lock for the session key.
type Pipeline struct {
	store          *session.Store
	serializer     *session.Serializer
	registry       *session.Registry
	sink           Sink
	toolClearGrace time.Duration
	logger         *slog.Logger
}

// New creates a pipeline. toolClearGrace is how long completed-tool markers
// linger so consumers can observe the active-to-completed transition.
func New(store *session.Store, ser *session.Serializer, reg *session.Registry, sink Sink, toolClearGrace time.Duration, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:          store,
		serializer:     ser,
		registry:       reg,
		sink:           sink,
		toolClearGrace: toolClearGrace,
		logger:         logger.With("component", "pipeline"),
	}
}

// streamState is the per-stream bookkeeping for one Consume call.
type streamState struct {
	key        string
	handle     *session.Handle
	progressed bool // a cumulative progress fragment has been applied
	cancelled  bool
}

// Consume applies events until the channel closes, a terminal event
// arrives, or the handle is aborted. The terminal path unconditionally
// releases the handle and never leaves the session stuck in streaming.
func (p *Pipeline) Consume(key string, h *session.Handle, events <-chan *Event) {
	st := &streamState{key: key, handle: h}
	defer p.finish(st)

	for {
		select {
		case <-h.Context().Done():
			st.cancelled = true
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.apply(st, ev)
			if ev.Terminal() {
				return
			}
		}
	}
}

// apply routes one event to its handler. Identity transitions run before
// the serializer lock is taken: they serialize under the new key's lock
// themselves, and the draft key's lock is not needed for the move.
func (p *Pipeline) apply(st *streamState, ev *Event) {
	if ev.Type == EventStart && ev.SessionKey != "" && ev.SessionKey != st.key && st.key == session.DraftKey {
		newKey, err := p.sink.TransitionSession(st.key, ev.SessionKey, st.handle.ID())
		if err != nil {
			p.logger.Warn("identity transition rejected",
				"draft_key", st.key,
				"assigned_key", ev.SessionKey,
				"error", err)
		} else {
			st.key = newKey
		}
	}

	var completedID string
	var failed string

	_ = p.serializer.Run(st.key, func() error {
		// A stream whose handle was replaced or aborted must not mutate
		// state the session has already moved past.
		if !p.registry.Matches(st.key, st.handle.ID()) {
			p.logger.Debug("discarding stale event",
				"session_key", st.key,
				"event_type", string(ev.Type))
			return nil
		}

		switch ev.Type {
		case EventStart:
			p.applyStart(st, ev)
		case EventProgress:
			content := ev.Content
			p.store.MutateLastAssistant(st.key, session.Patch{Content: &content})
			st.progressed = true
		case EventToolUse:
			p.store.AddActiveTool(st.key, ev.Tool)
		case EventToolComplete:
			p.store.RemoveActiveTool(st.key, ev.Tool)
			p.store.MutateLastAssistant(st.key, session.Patch{AddToolUse: &session.ToolUsage{
				ID:        ev.ToolUseID,
				Name:      ev.Tool,
				Output:    ev.Output,
				ElapsedMS: ev.ElapsedMS,
			}})
		case EventContent:
			// Progress is authoritative once any fragment has arrived; a
			// trailing full payload must not clobber newer partial text.
			if !st.progressed {
				content := ev.Content
				p.store.MutateLastAssistant(st.key, session.Patch{Content: &content})
			}
		case EventComplete:
			completedID = p.applyComplete(st, ev)
		case EventError:
			p.store.SetError(st.key, ev.Err)
			p.store.SetStatus(st.key, session.StatusError)
			p.store.ClearActiveTools(st.key)
			failed = ev.Err
		}
		return nil
	})

	if completedID != "" {
		p.sink.StreamCompleted(st.key, completedID)
	}
	if failed != "" {
		p.sink.StreamFailed(st.key, failed)
	}
}

// applyStart seeds the streaming assistant message with the id the backend
// assigned to it.
func (p *Pipeline) applyStart(st *streamState, ev *Event) {
	if ev.MessageID == "" {
		return
	}
	id := ev.MessageID
	p.store.MutateLastAssistant(st.key, session.Patch{ID: &id})
}

// applyComplete attaches the final metadata, returns the session to idle,
// and schedules the active-tool markers to clear after the grace delay.
// Returns the id of the completed message.
func (p *Pipeline) applyComplete(st *streamState, ev *Event) string {
	patch := session.Patch{}
	if ev.ElapsedMS > 0 {
		elapsed := ev.ElapsedMS
		patch.ElapsedMS = &elapsed
	}
	if ev.ToolUsages != nil {
		patch.ToolUsages = ev.ToolUsages
	}

	// Look the message up by id first; a message filtered locally between
	// assignment and completion falls back to the last assistant message.
	targetID := ev.MessageID
	if targetID == "" || !p.store.MutateMessage(st.key, targetID, patch) {
		if ev.MessageID != "" {
			id := ev.MessageID
			patch.ID = &id
		}
		targetID = p.store.MutateLastAssistant(st.key, patch)
	}

	p.store.SetError(st.key, "")
	p.store.SetStatus(st.key, session.StatusIdle)

	key := st.key
	handleID := st.handle.ID()
	time.AfterFunc(p.toolClearGrace, func() {
		_ = p.serializer.Run(key, func() error {
			// A newer stream owns the session now; leave its markers alone.
			if p.registry.Has(key) && !p.registry.Matches(key, handleID) {
				return nil
			}
			p.store.ClearActiveTools(key)
			return nil
		})
	})
	return targetID
}

// finish is the stream's unconditional terminal path: release the handle
// and make sure the session is never left stuck in streaming. Cleanup is
// skipped when the handle no longer belongs to this stream, because a newer
// stream owns the session state now.
func (p *Pipeline) finish(st *streamState) {
	released := p.registry.Release(st.key, st.handle.ID())

	_ = p.serializer.Run(st.key, func() error {
		if !released {
			return nil
		}
		if st.cancelled {
			p.store.ClearActiveTools(st.key)
		}
		switch p.store.Status(st.key) {
		case session.StatusStreaming, session.StatusDraining, session.StatusLoading:
			p.store.SetStatus(st.key, session.StatusIdle)
		}
		return nil
	})
}
