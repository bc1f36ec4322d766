// ABOUTME: Tests for stream event decoding from the backend wire format
// ABOUTME: Covers each frame type, terminal classification, and unknown-type rejection

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Start(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"start","id":"msg-1","conversation_id":"conv-9"}`))
	require.NoError(t, err)

	assert.Equal(t, EventStart, ev.Type)
	assert.Equal(t, "msg-1", ev.MessageID)
	assert.Equal(t, "conv-9", ev.SessionKey)
	assert.False(t, ev.Terminal())
}

func TestDecode_Progress(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"progress","content":"Hello, wor"}`))
	require.NoError(t, err)

	assert.Equal(t, EventProgress, ev.Type)
	assert.Equal(t, "Hello, wor", ev.Content)
}

func TestDecode_ToolFrames(t *testing.T) {
	use, err := Decode([]byte(`{"type":"tool_use","tool":"search","tool_usage_id":"tu-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "search", use.Tool)
	assert.Equal(t, "tu-1", use.ToolUseID)

	done, err := Decode([]byte(`{"type":"tool_complete","tool":"search","tool_usage_id":"tu-1","execution_time_ms":420,"output":"3 results"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(420), done.ElapsedMS)
	assert.Equal(t, "3 results", done.Output)
}

func TestDecode_Complete(t *testing.T) {
	data := []byte(`{
		"type": "complete",
		"id": "msg-1",
		"processing_time_ms": 3200,
		"tool_usages": [{"id":"u1","tool_name":"search","tool_use_id":"tu-1","execution_time_ms":420}]
	}`)

	ev, err := Decode(data)
	require.NoError(t, err)

	assert.True(t, ev.Terminal())
	assert.Equal(t, int64(3200), ev.ElapsedMS)
	require.Len(t, ev.ToolUsages, 1)
	assert.Equal(t, "search", ev.ToolUsages[0].Name)
	assert.Equal(t, int64(420), ev.ToolUsages[0].ElapsedMS)
}

func TestDecode_Error(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"error","error":"model overloaded"}`))
	require.NoError(t, err)

	assert.True(t, ev.Terminal())
	assert.Equal(t, "model overloaded", ev.Err)
}

func TestDecode_UnknownTypeRejected(t *testing.T) {
	_, err := Decode([]byte(`{"type":"conversation_redirect"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeDecode_CompleteRoundTrip(t *testing.T) {
	orig := &Event{
		Type:      EventComplete,
		MessageID: "msg-7",
		ElapsedMS: 1500,
	}

	data, err := orig.Encode()
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, orig.MessageID, back.MessageID)
	assert.Equal(t, orig.ElapsedMS, back.ElapsedMS)
}
