// ABOUTME: Tests for the websocket stream transport and HTTP history loader
// ABOUTME: Runs a scripted backend on httptest and asserts the decoded event sequence

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/stream"
)

// scriptedBackend is an httptest server speaking the chat socket protocol.
type scriptedBackend struct {
	t      *testing.T
	server *httptest.Server
	// script receives the parsed send frame and writes response frames.
	script func(frame map[string]any, write func(v any))
	header http.Header
}

func newScriptedBackend(t *testing.T, script func(frame map[string]any, write func(v any))) *scriptedBackend {
	t.Helper()
	b := &scriptedBackend{t: t, script: script}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/ws", func(w http.ResponseWriter, r *http.Request) {
		b.header = r.Header.Clone()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))

		b.script(frame, func(v any) {
			out, err := json.Marshal(v)
			require.NoError(t, err)
			_ = conn.Write(ctx, websocket.MessageText, out)
		})
	})

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func collectEvents(t *testing.T, events <-chan *stream.Event) []*stream.Event {
	t.Helper()
	var got []*stream.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("stream never closed; got %d events", len(got))
		}
	}
}

func TestOpenStream_DecodesEventSequence(t *testing.T) {
	backend := newScriptedBackend(t, func(frame map[string]any, write func(v any)) {
		assert.Equal(t, "chat", frame["type"])
		assert.Equal(t, "conv-1", frame["conversation_id"])
		assert.Equal(t, "hello", frame["content"])

		write(map[string]any{"type": "start", "id": "msg-1", "conversation_id": "conv-1"})
		write(map[string]any{"type": "progress", "content": "hi", "conversation_id": "conv-1"})
		write(map[string]any{"type": "complete", "id": "msg-1", "conversation_id": "conv-1", "processing_time_ms": 42})
	})

	c := NewClient(backend.server.URL, "test-token", nil)
	events, err := c.OpenStream(context.Background(), &stream.Request{SessionKey: "conv-1", Content: "hello"})
	require.NoError(t, err)

	got := collectEvents(t, events)
	require.Len(t, got, 3)
	assert.Equal(t, stream.EventStart, got[0].Type)
	assert.Equal(t, stream.EventProgress, got[1].Type)
	assert.Equal(t, stream.EventComplete, got[2].Type)
	assert.Equal(t, int64(42), got[2].ElapsedMS)

	assert.Equal(t, "Bearer test-token", backend.header.Get("Authorization"))
}

func TestOpenStream_ResumeFrameType(t *testing.T) {
	backend := newScriptedBackend(t, func(frame map[string]any, write func(v any)) {
		assert.Equal(t, "resume", frame["type"])
		write(map[string]any{"type": "complete", "id": "msg-1", "conversation_id": "conv-1"})
	})

	c := NewClient(backend.server.URL, "", nil)
	events, err := c.OpenStream(context.Background(), &stream.Request{SessionKey: "conv-1", Resume: true})
	require.NoError(t, err)
	collectEvents(t, events)
}

func TestOpenStream_UndecodableFramesSkipped(t *testing.T) {
	backend := newScriptedBackend(t, func(frame map[string]any, write func(v any)) {
		write(map[string]any{"type": "telemetry", "payload": "ignored"})
		write(map[string]any{"type": "complete", "id": "msg-1", "conversation_id": "conv-1"})
	})

	c := NewClient(backend.server.URL, "", nil)
	events, err := c.OpenStream(context.Background(), &stream.Request{SessionKey: "conv-1", Content: "x"})
	require.NoError(t, err)

	got := collectEvents(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, stream.EventComplete, got[0].Type)
}

func TestOpenStream_ForeignFramesDropped(t *testing.T) {
	backend := newScriptedBackend(t, func(frame map[string]any, write func(v any)) {
		write(map[string]any{"type": "progress", "content": "other", "conversation_id": "conv-other"})
		write(map[string]any{"type": "progress", "content": "mine", "conversation_id": "conv-1"})
		write(map[string]any{"type": "complete", "id": "msg-1", "conversation_id": "conv-1"})
	})

	c := NewClient(backend.server.URL, "", nil)
	events, err := c.OpenStream(context.Background(), &stream.Request{SessionKey: "conv-1", Content: "x"})
	require.NoError(t, err)

	got := collectEvents(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, "mine", got[0].Content)
}

func TestOpenStream_DialFailure(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := c.OpenStream(ctx, &stream.Request{SessionKey: "conv-1", Content: "x"})
	assert.Error(t, err)
}

func TestOpenStream_BadScheme(t *testing.T) {
	c := NewClient("ftp://example.com", "", nil)
	_, err := c.OpenStream(context.Background(), &stream.Request{SessionKey: "conv-1"})
	assert.Error(t, err)
}

func TestLoadHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversations/conv-1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"m1","role":"user","content":"question","created_at":"2026-08-30T12:00:00Z"},
			{"id":"m2","role":"assistant","content":"answer","created_at":"2026-08-30T12:00:05Z","processing_time_ms":4100,
			 "tool_usages":[{"id":"u1","tool_name":"search","execution_time_ms":900}]}
		]`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := NewClient(server.URL, "tok", nil)
	messages, err := c.LoadHistory(context.Background(), "conv-1")
	require.NoError(t, err)

	require.Len(t, messages, 2)
	assert.Equal(t, "question", messages[0].Content)
	assert.Equal(t, int64(4100), messages[1].ElapsedMS)
	require.Len(t, messages[1].ToolUsages, 1)
	assert.Equal(t, "search", messages[1].ToolUsages[0].Name)
	assert.Equal(t, "2026-08-30T12:00:00Z", messages[0].CreatedAt.Format(time.RFC3339))
}

func TestLoadHistory_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", nil)
	_, err := c.LoadHistory(context.Background(), "conv-1")
	assert.Error(t, err)
}
