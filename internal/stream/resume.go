// ABOUTME: Detects interrupted streams from the persisted history tail
// ABOUTME: Polls the history endpoint until the assistant reply lands or attempts run out

package stream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/coven-chat/internal/session"
)

// ErrResumeTimeout indicates polling exhausted its attempts without the
// assistant reply appearing. Surfaced to the user as a retryable error.
var ErrResumeTimeout = errors.New("assistant reply did not arrive; please retry")

// HistoryLoader fetches the persisted transcript for a session from the
// remote backend.
type HistoryLoader interface {
	LoadHistory(ctx context.Context, key string) ([]*session.Message, error)
}

// Verdict is the outcome of inspecting a loaded history tail.
type Verdict struct {
	// Resume means an assistant reply was likely in flight when the client
	// was interrupted.
	Resume bool
	// DropLast means the trailing message is a corrupted partial write and
	// must be removed locally before resuming.
	DropLast bool
	// PendingContent is the user message the interrupted reply answers.
	PendingContent string
}

// Detector decides whether a freshly loaded session was interrupted
// mid-stream and recovers the reply by bounded polling.
type Detector struct {
	loader      HistoryLoader
	freshness   time.Duration
	pollEvery   time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewDetector creates a detector. freshness bounds how old a trailing user
// message may be while still suggesting an in-flight reply.
func NewDetector(loader HistoryLoader, freshness, pollEvery time.Duration, maxAttempts int, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		loader:      loader,
		freshness:   freshness,
		pollEvery:   pollEvery,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "resume"),
	}
}

// Inspect examines the tail of a loaded transcript.
func (d *Detector) Inspect(messages []*session.Message, now time.Time) Verdict {
	if len(messages) == 0 {
		return Verdict{}
	}

	last := messages[len(messages)-1]
	switch {
	case last.Role == session.RoleUser && now.Sub(last.CreatedAt) < d.freshness:
		return Verdict{Resume: true, PendingContent: last.Content}
	case last.Role == session.RoleAssistant && last.Content == "":
		// Corrupted partial write: drop it and recover against the user
		// message that preceded it.
		v := Verdict{Resume: true, DropLast: true}
		if len(messages) >= 2 && messages[len(messages)-2].Role == session.RoleUser {
			v.PendingContent = messages[len(messages)-2].Content
		}
		return v
	default:
		return Verdict{}
	}
}

// Await polls the history endpoint until the transcript ends in a non-empty
// assistant reply, returning the refreshed transcript. Polling is paced and
// bounded; exhaustion returns ErrResumeTimeout.
func (d *Detector) Await(ctx context.Context, key string) ([]*session.Message, error) {
	limiter := rate.NewLimiter(rate.Every(d.pollEvery), 1)

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		messages, err := d.loader.LoadHistory(ctx, key)
		if err != nil {
			d.logger.Warn("resume poll failed",
				"session_key", key,
				"attempt", attempt,
				"error", err)
			continue
		}
		if n := len(messages); n > 0 {
			last := messages[n-1]
			if last.Role == session.RoleAssistant && last.Content != "" {
				d.logger.Debug("resume poll recovered reply",
					"session_key", key,
					"attempt", attempt)
				return messages, nil
			}
		}
	}
	return nil, ErrResumeTimeout
}
