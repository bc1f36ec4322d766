// ABOUTME: Typed stream events and their JSON wire envelope
// ABOUTME: Decodes the backend's ordered event frames into a closed union

package stream

import (
	"encoding/json"
	"fmt"

	"github.com/2389/coven-chat/internal/session"
)

// EventType tags the closed set of stream events.
type EventType string

const (
	EventStart        EventType = "start"
	EventProgress     EventType = "progress"
	EventToolUse      EventType = "tool_use"
	EventToolComplete EventType = "tool_complete"
	EventContent      EventType = "content"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

// Event is one frame of an assistant response stream. SessionKey carries
// the conversation identifier the backend tagged the frame with; on a start
// frame it is the assigned identifier that may differ from the local draft
// key and trigger an identity transition.
type Event struct {
	Type       EventType
	SessionKey string
	MessageID  string
	Content    string
	Tool       string
	ToolUseID  string
	ElapsedMS  int64
	Output     string
	ToolUsages []session.ToolUsage
	Err        string
}

// Terminal reports whether no further frames follow this event.
func (e *Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Request describes one stream to open against the backend.
type Request struct {
	SessionKey  string
	Content     string
	Attachments []session.Attachment
	Resume      bool
}

// envelope is the JSON wire form of an event frame.
type envelope struct {
	Type             string          `json:"type"`
	ID               string          `json:"id,omitempty"`
	ConversationID   string          `json:"conversation_id,omitempty"`
	Content          string          `json:"content,omitempty"`
	Tool             string          `json:"tool,omitempty"`
	ToolUsageID      string          `json:"tool_usage_id,omitempty"`
	ExecutionTimeMS  int64           `json:"execution_time_ms,omitempty"`
	Output           string          `json:"output,omitempty"`
	ProcessingTimeMS int64           `json:"processing_time_ms,omitempty"`
	ToolUsages       []toolUsageWire `json:"tool_usages,omitempty"`
	Error            string          `json:"error,omitempty"`
}

type toolUsageWire struct {
	ID              string `json:"id"`
	ToolName        string `json:"tool_name"`
	ToolUseID       string `json:"tool_use_id,omitempty"`
	Output          string `json:"output,omitempty"`
	ExecutionTimeMS int64  `json:"execution_time_ms,omitempty"`
}

// Decode parses one wire frame into an Event. Frames with an unknown type
// are rejected so the transport can log and skip them.
func Decode(data []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding event frame: %w", err)
	}

	ev := &Event{
		Type:       EventType(env.Type),
		SessionKey: env.ConversationID,
		MessageID:  env.ID,
		Content:    env.Content,
		Tool:       env.Tool,
		ToolUseID:  env.ToolUsageID,
		Output:     env.Output,
		Err:        env.Error,
	}

	switch ev.Type {
	case EventStart, EventProgress, EventToolUse, EventContent, EventError:
	case EventToolComplete:
		ev.ElapsedMS = env.ExecutionTimeMS
	case EventComplete:
		ev.ElapsedMS = env.ProcessingTimeMS
		for _, tu := range env.ToolUsages {
			ev.ToolUsages = append(ev.ToolUsages, session.ToolUsage{
				ID:        tu.ID,
				Name:      tu.ToolName,
				ToolUseID: tu.ToolUseID,
				Output:    tu.Output,
				ElapsedMS: tu.ExecutionTimeMS,
			})
		}
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	return ev, nil
}

// Encode renders the event back into its wire frame. Used by tests and by
// fake backends.
func (e *Event) Encode() ([]byte, error) {
	env := envelope{
		Type:           string(e.Type),
		ID:             e.MessageID,
		ConversationID: e.SessionKey,
		Content:        e.Content,
		Tool:           e.Tool,
		ToolUsageID:    e.ToolUseID,
		Output:         e.Output,
		Error:          e.Err,
	}
	switch e.Type {
	case EventToolComplete:
		env.ExecutionTimeMS = e.ElapsedMS
	case EventComplete:
		env.ProcessingTimeMS = e.ElapsedMS
		for _, tu := range e.ToolUsages {
			env.ToolUsages = append(env.ToolUsages, toolUsageWire{
				ID:              tu.ID,
				ToolName:        tu.Name,
				ToolUseID:       tu.ToolUseID,
				Output:          tu.Output,
				ExecutionTimeMS: tu.ElapsedMS,
			})
		}
	}
	return json.Marshal(env)
}
