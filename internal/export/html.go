// ABOUTME: Renders a session transcript to a standalone HTML document
// ABOUTME: Assistant markdown goes through goldmark; user text is escaped verbatim

package export

import (
	"bytes"
	"fmt"
	"html/template"
	"io"

	"github.com/yuin/goldmark"

	"github.com/2389/coven-chat/internal/session"
)

var transcriptTmpl = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
.message { margin: 1.5rem 0; }
.role { font-weight: bold; color: #555; text-transform: uppercase; font-size: 0.8rem; }
.user .body { white-space: pre-wrap; background: #f0f4f8; padding: 0.75rem; border-radius: 6px; }
.tools { font-size: 0.85rem; color: #777; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Messages}}<div class="message {{.Role}}">
<div class="role">{{.Role}}</div>
<div class="body">{{.Body}}</div>
{{if .Tools}}<div class="tools">tools: {{.Tools}}</div>{{end}}
</div>
{{end}}</body>
</html>
`))

type renderedMessage struct {
	Role  string
	Body  template.HTML
	Tools string
}

type transcriptData struct {
	Title    string
	Messages []renderedMessage
}

// WriteTranscript renders the snapshot's visible messages as a standalone
// HTML page.
func WriteTranscript(w io.Writer, snap *session.Snapshot) error {
	data := transcriptData{Title: snap.Title}
	if data.Title == "" {
		data.Title = "Conversation " + snap.Key
	}

	for _, msg := range snap.Messages {
		rm := renderedMessage{Role: string(msg.Role)}

		if msg.Role == session.RoleAssistant {
			var buf bytes.Buffer
			if err := goldmark.Convert([]byte(msg.Content), &buf); err != nil {
				return fmt.Errorf("rendering markdown: %w", err)
			}
			rm.Body = template.HTML(buf.String())
		} else {
			rm.Body = template.HTML(template.HTMLEscapeString(msg.Content))
		}

		for i, tu := range msg.ToolUsages {
			if i > 0 {
				rm.Tools += ", "
			}
			rm.Tools += tu.Name
		}
		data.Messages = append(data.Messages, rm)
	}

	return transcriptTmpl.Execute(w, data)
}
