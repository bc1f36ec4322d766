// ABOUTME: Tests for HTML transcript export
// ABOUTME: Covers markdown rendering, user text escaping, titles, and tool listings

package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/session"
)

func renderSnapshot(t *testing.T, snap *session.Snapshot) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteTranscript(&buf, snap))
	return buf.String()
}

func TestWriteTranscript_AssistantMarkdown(t *testing.T) {
	out := renderSnapshot(t, &session.Snapshot{
		Key:   "s1",
		Title: "Markdown session",
		Messages: []session.Message{
			{Role: session.RoleUser, Content: "show me code"},
			{Role: session.RoleAssistant, Content: "Here is **bold** and `code`."},
		},
	})

	assert.Contains(t, out, "<strong>bold</strong>")
	assert.Contains(t, out, "<code>code</code>")
	assert.Contains(t, out, "Markdown session")
}

func TestWriteTranscript_UserTextEscaped(t *testing.T) {
	out := renderSnapshot(t, &session.Snapshot{
		Key: "s1",
		Messages: []session.Message{
			{Role: session.RoleUser, Content: "<script>alert(1)</script>"},
		},
	})

	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
}

func TestWriteTranscript_FallbackTitle(t *testing.T) {
	out := renderSnapshot(t, &session.Snapshot{Key: "conv-7"})
	assert.Contains(t, out, "Conversation conv-7")
}

func TestWriteTranscript_ToolUsages(t *testing.T) {
	out := renderSnapshot(t, &session.Snapshot{
		Key: "s1",
		Messages: []session.Message{
			{
				Role:    session.RoleAssistant,
				Content: "done",
				ToolUsages: []session.ToolUsage{
					{Name: "search"},
					{Name: "fetch"},
				},
			},
		},
	})

	assert.Contains(t, out, "tools: search, fetch")
}

func TestWriteTranscript_EmptySnapshot(t *testing.T) {
	out := renderSnapshot(t, &session.Snapshot{Key: "s1"})
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.NotContains(t, out, "class=\"message\"")
}
