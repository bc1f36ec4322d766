// ABOUTME: SQLite snapshot of pending backlog queues using modernc.org/sqlite
// ABOUTME: Best-effort persistence so queued messages survive a client reload

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/coven-chat/internal/session"
)

// saveTimeout bounds each snapshot write so a wedged disk never blocks a
// queue mutation.
const saveTimeout = 5 * time.Second

// BacklogStore persists per-session pending queues. Attachments are not
// snapshot-able and are dropped; restored messages carry id, content, and
// submit time only.
type BacklogStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewBacklogStore opens (or creates) the snapshot database at path.
// Parent directories are created if needed.
func NewBacklogStore(path string) (*BacklogStore, error) {
	logger := slog.Default().With("component", "backlog-store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &BacklogStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("backlog store initialized", "path", path)
	return s, nil
}

func (s *BacklogStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS pending_messages (
			id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			content TEXT NOT NULL,
			submitted_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_pending_session_key
			ON pending_messages(session_key);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveBacklog replaces the snapshot for key with the given queue. Failures
// are logged, not returned: snapshot persistence is best effort and must
// never fail a queue mutation. Implements session.SnapshotSaver.
func (s *BacklogStore) SaveBacklog(key string, pending []session.QueuedMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("failed to begin snapshot tx", "error", err, "session_key", key)
		return
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_messages WHERE session_key = ?", key); err != nil {
		s.logger.Error("failed to clear snapshot", "error", err, "session_key", key)
		return
	}
	for _, qm := range pending {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO pending_messages (id, session_key, content, submitted_at) VALUES (?, ?, ?, ?)",
			qm.ID, key, qm.Content, qm.SubmittedAt.UTC())
		if err != nil {
			s.logger.Error("failed to snapshot queued message",
				"error", err,
				"session_key", key,
				"queued_id", qm.ID)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("failed to commit snapshot", "error", err, "session_key", key)
		return
	}

	s.logger.Debug("backlog snapshot saved", "session_key", key, "pending", len(pending))
}

// LoadAll returns every persisted queue grouped by session key, ordered by
// submit time within each queue.
func (s *BacklogStore) LoadAll(ctx context.Context) (map[string][]session.QueuedMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_key, content, submitted_at FROM pending_messages ORDER BY session_key, submitted_at")
	if err != nil {
		return nil, fmt.Errorf("loading backlog snapshots: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]session.QueuedMessage)
	for rows.Next() {
		var qm session.QueuedMessage
		var key string
		if err := rows.Scan(&qm.ID, &key, &qm.Content, &qm.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scanning queued message: %w", err)
		}
		result[key] = append(result[key], qm)
	}
	return result, rows.Err()
}

// Close closes the underlying database.
func (s *BacklogStore) Close() error {
	return s.db.Close()
}
