// ABOUTME: Coordination service owning the session lifecycle end to end
// ABOUTME: Serializes sends, drives streams, drains the backlog, and recovers interrupted sessions

package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/notify"
	"github.com/2389/coven-chat/internal/session"
	"github.com/2389/coven-chat/internal/stream"
)

// ErrEmptyMessage indicates a send with no content.
var ErrEmptyMessage = errors.New("message content is empty")

// Transport opens assistant response streams against the backend.
type Transport interface {
	OpenStream(ctx context.Context, req *stream.Request) (<-chan *stream.Event, error)
}

// Archive persists backlog snapshots across reloads. Optional.
type Archive interface {
	SaveBacklog(key string, pending []session.QueuedMessage)
	LoadAll(ctx context.Context) (map[string][]session.QueuedMessage, error)
}

// Manager is the conversation session concurrency core. It owns per-session
// state via the Store, serializes mutations, materializes response streams,
// queues messages behind active streams, and migrates draft sessions to
// their permanent identity. Construct one per process and pass it
// explicitly; there are no hidden globals.
type Manager struct {
	cfg        *config.Config
	store      *session.Store
	serializer *session.Serializer
	registry   *session.Registry
	backlog    *session.Backlog
	dedupe     *dedupe.Cache
	pipeline   *stream.Pipeline
	detector   *stream.Detector
	transport  Transport
	history    stream.HistoryLoader
	archive    Archive
	notifier   *notify.Broadcaster
	logger     *slog.Logger

	tmu     sync.Mutex
	pending map[string]string // draft key -> assigned key, while the move is in flight
}

// New wires a manager from its collaborators. archive may be nil to disable
// backlog persistence; pass nil logger for slog.Default.
func New(cfg *config.Config, tr Transport, history stream.HistoryLoader, archive Archive, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	st := session.NewStore(cfg.Session.MaxCached, logger)
	ser := session.NewSerializer()
	reg := session.NewRegistry(logger)
	dd := dedupe.New(cfg.Session.DedupWindow, 256)

	var saver session.SnapshotSaver
	if archive != nil {
		saver = archive
	}

	m := &Manager{
		cfg:          cfg,
		store:        st,
		serializer:   ser,
		registry:     reg,
		backlog:      session.NewBacklog(st, dd, saver, logger),
		dedupe:       dd,
		detector:     stream.NewDetector(history, cfg.Resume.Freshness, cfg.Resume.PollInterval, cfg.Resume.MaxAttempts, logger),
		transport:    tr,
		history:      history,
		archive:      archive,
		notifier:     notify.NewBroadcaster(logger),
		logger:       logger.With("component", "manager"),
		pending:      make(map[string]string),
	}
	m.pipeline = stream.New(st, ser, reg, m, cfg.Session.ToolClearGrace, logger)

	// Queue draining is driven by status transitions to idle. The observer
	// runs on its own goroutine, so re-entering the serializer is safe.
	st.SetIdleObserver(m.drainQueue)

	return m
}

// Send submits a user message for the given session. When a stream is
// already active the message is queued; duplicates inside the dedup window
// are absorbed silently.
func (m *Manager) Send(key, content string, attachments []session.Attachment) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	return m.serializer.Run(key, func() error {
		return m.sendLocked(key, content, attachments, false)
	})
}

// sendLocked is the send path. Must run under the serializer lock for key.
// internal marks queue-drain re-invocations, which must not be re-queued.
func (m *Manager) sendLocked(key, content string, attachments []session.Attachment, internal bool) error {
	status := m.store.Status(key)

	if !internal {
		busy := status == session.StatusStreaming ||
			status == session.StatusLoading ||
			status == session.StatusDraining
		// While the session's identity is moving off this key, the copy may
		// sweep state away between our reads. Queue instead of appending;
		// the queue travels with the move, and the transition drains the
		// old key afterwards for anything that arrived too late to travel.
		if busy || m.transitionPending(key) {
			if qm, ok := m.backlog.Enqueue(key, content, attachments); ok {
				m.logger.Debug("message queued behind active stream",
					"session_key", key,
					"queued_id", qm.ID)
			}
			return nil
		}
	}

	m.store.AppendMessage(key, &session.Message{
		ID:          uuid.New().String(),
		Role:        session.RoleUser,
		Content:     content,
		Attachments: attachments,
		CreatedAt:   time.Now(),
	})
	m.store.SetError(key, "")
	m.store.SetStatus(key, session.StatusStreaming)

	h := m.registry.Create(key)
	go m.openStream(key, h, content, attachments, false)
	return nil
}

// openStream dials the transport and hands the event channel to the
// pipeline. Runs outside the serializer lock: only state mutation is
// serialized, never the network wait.
func (m *Manager) openStream(key string, h *session.Handle, content string, attachments []session.Attachment, resume bool) {
	req := &stream.Request{
		SessionKey:  key,
		Content:     content,
		Attachments: attachments,
		Resume:      resume,
	}

	events, err := m.transport.OpenStream(h.Context(), req)
	if err != nil {
		errText := fmt.Sprintf("failed to reach assistant: %v", err)
		var released bool
		_ = m.serializer.Run(key, func() error {
			released = m.registry.Release(key, h.ID())
			if released {
				m.store.SetError(key, errText)
				m.store.SetStatus(key, session.StatusError)
			}
			return nil
		})
		if released {
			m.StreamFailed(key, errText)
		}
		return
	}

	m.pipeline.Consume(key, h, events)
}

// Stop aborts the active stream for key. Cancellation is silent: the
// session returns to idle with no error surfaced.
func (m *Manager) Stop(key string) {
	aborted := m.registry.Abort(key)
	_ = m.serializer.Run(key, func() error {
		m.store.ClearActiveTools(key)
		switch m.store.Status(key) {
		case session.StatusStreaming, session.StatusDraining, session.StatusLoading:
			m.store.SetStatus(key, session.StatusIdle)
		}
		return nil
	})
	if aborted {
		m.logger.Debug("stream aborted", "session_key", key)
	}
}

// Attach loads the persisted history for key and recovers an interrupted
// stream if the tail suggests one was in flight.
func (m *Manager) Attach(ctx context.Context, key string) error {
	_ = m.serializer.Run(key, func() error {
		m.store.SetStatus(key, session.StatusLoading)
		return nil
	})

	messages, err := m.history.LoadHistory(ctx, key)
	if err != nil {
		errText := fmt.Sprintf("failed to load history: %v", err)
		_ = m.serializer.Run(key, func() error {
			m.store.SetError(key, errText)
			m.store.SetStatus(key, session.StatusError)
			return nil
		})
		m.notifier.Publish(notify.Notification{
			Type:       notify.TypeErrorOccurred,
			SessionKey: key,
			Err:        errText,
		})
		return err
	}

	verdict := m.detector.Inspect(messages, time.Now())
	if verdict.DropLast {
		messages = messages[:len(messages)-1]
		m.logger.Warn("dropped corrupted partial assistant message", "session_key", key)
	}

	_ = m.serializer.Run(key, func() error {
		m.store.ReplaceMessages(key, messages)
		m.store.SetError(key, "")
		if verdict.Resume {
			m.store.SetStatus(key, session.StatusStreaming)
		} else {
			m.store.SetStatus(key, session.StatusIdle)
		}
		return nil
	})

	if verdict.Resume {
		h := m.registry.Create(key)
		go m.recover(key, h)
	}
	return nil
}

// recover polls the history endpoint until the interrupted reply lands.
func (m *Manager) recover(key string, h *session.Handle) {
	messages, err := m.detector.Await(h.Context(), key)

	_ = m.serializer.Run(key, func() error {
		if !m.registry.Release(key, h.ID()) {
			// Aborted or superseded while polling; nothing to apply.
			return nil
		}
		switch {
		case err == nil:
			m.store.ReplaceMessages(key, messages)
			m.store.SetStatus(key, session.StatusIdle)
		case errors.Is(err, context.Canceled):
			m.store.SetStatus(key, session.StatusIdle)
		default:
			m.store.SetError(key, err.Error())
			m.store.SetStatus(key, session.StatusError)
		}
		return nil
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		m.notifier.Publish(notify.Notification{
			Type:       notify.TypeErrorOccurred,
			SessionKey: key,
			Err:        err.Error(),
		})
	}
}

// drainQueue releases the next backlog message once a session goes idle.
func (m *Manager) drainQueue(key string) {
	_ = m.serializer.Run(key, func() error {
		qm := m.backlog.DequeueNext(key)
		if qm == nil {
			return nil
		}
		m.store.SetStatus(key, session.StatusDraining)
		m.logger.Debug("draining queued message",
			"session_key", key,
			"queued_id", qm.ID)
		return m.sendLocked(key, qm.Content, qm.Attachments, true)
	})
}

// ForgetAfter soft-deletes every message after messageID.
func (m *Manager) ForgetAfter(key, messageID string) error {
	return m.serializer.Run(key, func() error {
		return m.store.ForgetAfter(key, messageID)
	})
}

// RestoreForgotten undoes ForgetAfter.
func (m *Manager) RestoreForgotten(key string) {
	_ = m.serializer.Run(key, func() error {
		m.store.RestoreForgotten(key)
		return nil
	})
}

// RemoveQueued deletes a pending message from the backlog.
func (m *Manager) RemoveQueued(key, id string) bool {
	var removed bool
	_ = m.serializer.Run(key, func() error {
		removed = m.backlog.Remove(key, id)
		return nil
	})
	return removed
}

// EditQueued rewrites a pending message's content in place.
func (m *Manager) EditQueued(key, id, newContent string) bool {
	var edited bool
	_ = m.serializer.Run(key, func() error {
		edited = m.backlog.Edit(key, id, newContent)
		return nil
	})
	return edited
}

// SwitchActive marks key as the active session and opportunistically evicts
// stale sessions beyond the cache bound. Evicted sessions get their handles
// aborted; the active session is never evicted.
func (m *Manager) SwitchActive(key string) {
	m.store.SetActive(key)
	for _, evicted := range m.store.SweepInactive() {
		m.registry.Abort(evicted)
	}
}

// Snapshot returns a read-only copy of the session state.
func (m *Manager) Snapshot(key string) *session.Snapshot {
	return m.store.Snapshot(key)
}

// Subscribe registers for notifications about one session.
func (m *Manager) Subscribe(ctx context.Context, key string) (<-chan notify.Notification, string) {
	return m.notifier.Subscribe(ctx, key)
}

// SubscribeAll registers for every notification.
func (m *Manager) SubscribeAll(ctx context.Context) (<-chan notify.Notification, string) {
	return m.notifier.SubscribeAll(ctx)
}

// RestoreBacklogs loads persisted queue snapshots, typically once at
// startup. Attachments were dropped when the snapshot was written.
func (m *Manager) RestoreBacklogs(ctx context.Context) error {
	if m.archive == nil {
		return nil
	}
	saved, err := m.archive.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("restoring backlog snapshots: %w", err)
	}
	for key, pending := range saved {
		key, pending := key, pending
		_ = m.serializer.Run(key, func() error {
			m.backlog.Restore(key, pending)
			return nil
		})
	}
	return nil
}

// Close aborts every stream and shuts down shared resources.
func (m *Manager) Close() {
	m.registry.AbortAll()
	m.dedupe.Close()
	m.notifier.Close()
}
