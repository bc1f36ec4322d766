// ABOUTME: HTTP history loader for persisted conversation transcripts
// ABOUTME: Fetches the message list owned by the remote backend

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/2389/coven-chat/internal/session"
)

// messageWire is the backend's JSON form of a persisted message.
type messageWire struct {
	ID               string          `json:"id"`
	Role             string          `json:"role"`
	Content          string          `json:"content"`
	CreatedAt        string          `json:"created_at"`
	ProcessingTimeMS int64           `json:"processing_time_ms,omitempty"`
	ToolUsages       []toolUsageWire `json:"tool_usages,omitempty"`
}

type toolUsageWire struct {
	ID              string `json:"id"`
	ToolName        string `json:"tool_name"`
	ToolUseID       string `json:"tool_use_id,omitempty"`
	Output          string `json:"output,omitempty"`
	ExecutionTimeMS int64  `json:"execution_time_ms,omitempty"`
}

// LoadHistory fetches the persisted transcript for a session. Implements
// stream.HistoryLoader.
func (c *Client) LoadHistory(ctx context.Context, key string) ([]*session.Message, error) {
	endpoint := fmt.Sprintf("%s/api/conversations/%s/messages", c.baseURL, url.PathEscape(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building history request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request failed: %s", resp.Status)
	}

	var wire []messageWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}

	messages := make([]*session.Message, 0, len(wire))
	for _, w := range wire {
		msg := &session.Message{
			ID:        w.ID,
			Role:      session.Role(w.Role),
			Content:   w.Content,
			ElapsedMS: w.ProcessingTimeMS,
		}
		if t, err := time.Parse(time.RFC3339, w.CreatedAt); err == nil {
			msg.CreatedAt = t
		}
		for _, tu := range w.ToolUsages {
			msg.ToolUsages = append(msg.ToolUsages, session.ToolUsage{
				ID:        tu.ID,
				Name:      tu.ToolName,
				ToolUseID: tu.ToolUseID,
				Output:    tu.Output,
				ElapsedMS: tu.ExecutionTimeMS,
			})
		}
		messages = append(messages, msg)
	}

	c.logger.Debug("history loaded", "session_key", key, "messages", len(messages))
	return messages, nil
}
