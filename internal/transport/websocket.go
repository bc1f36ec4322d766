// ABOUTME: WebSocket transport for assistant response streams
// ABOUTME: Dials the backend chat socket, writes the send frame, decodes event frames

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/coven-chat/internal/session"
	"github.com/2389/coven-chat/internal/stream"
)

const streamBufferSize = 16

// Client talks to the conversation backend over WebSocket for streams and
// plain HTTP for history.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a transport client for the given backend base URL.
// Pass nil logger for slog.Default.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("component", "transport"),
	}
}

// sendFrame is the JSON frame that opens a stream on the socket.
type sendFrame struct {
	Type           string           `json:"type"`
	ConversationID string           `json:"conversation_id"`
	Content        string           `json:"content"`
	Attachments    []attachmentWire `json:"attachments,omitempty"`
}

type attachmentWire struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data,omitempty"`
}

// OpenStream dials the chat socket, submits the request, and returns a
// channel of decoded events. The channel closes when the stream ends or
// ctx is cancelled; a transport failure surfaces as a final error event.
func (c *Client) OpenStream(ctx context.Context, req *stream.Request) (<-chan *stream.Event, error) {
	socketURL, err := c.socketURL()
	if err != nil {
		return nil, err
	}

	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if c.token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.Dial(ctx, socketURL, opts)
	if err != nil {
		return nil, fmt.Errorf("dialing chat socket: %w", err)
	}

	frame := sendFrame{
		Type:           "chat",
		ConversationID: req.SessionKey,
		Content:        req.Content,
	}
	if req.Resume {
		frame.Type = "resume"
	}
	for _, att := range req.Attachments {
		frame.Attachments = append(frame.Attachments, attachmentWire{
			Filename: att.Filename,
			MimeType: att.MimeType,
			Data:     att.Data,
		})
	}
	if err := writeJSON(ctx, conn, frame); err != nil {
		conn.Close(websocket.StatusInternalError, "send failed")
		return nil, fmt.Errorf("submitting message: %w", err)
	}

	events := make(chan *stream.Event, streamBufferSize)
	go c.readLoop(ctx, conn, req.SessionKey, events)

	c.logger.Debug("stream opened", "session_key", req.SessionKey, "resume", req.Resume)
	return events, nil
}

// readLoop decodes frames off the socket until the stream ends. Frames for
// other conversations multiplexed on the socket are dropped.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, key string, events chan<- *stream.Event) {
	defer close(events)
	defer conn.Close(websocket.StatusNormalClosure, "stream finished")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled locally; the pipeline handles cleanup.
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			c.deliver(ctx, events, &stream.Event{
				Type:       stream.EventError,
				SessionKey: key,
				Err:        fmt.Sprintf("connection lost: %v", err),
			})
			return
		}

		ev, err := stream.Decode(data)
		if err != nil {
			c.logger.Warn("skipping undecodable frame", "session_key", key, "error", err)
			continue
		}
		if ev.SessionKey == "" {
			ev.SessionKey = key
		}
		// A start frame may re-tag a draft conversation; everything else
		// must match the stream we opened.
		if ev.Type != stream.EventStart && ev.SessionKey != key && key != session.DraftKey {
			c.logger.Debug("dropping frame for other conversation",
				"session_key", key,
				"frame_key", ev.SessionKey)
			continue
		}

		if !c.deliver(ctx, events, ev) {
			return
		}
		if ev.Terminal() {
			return
		}
	}
}

// deliver forwards an event unless ctx ends first.
func (c *Client) deliver(ctx context.Context, events chan<- *stream.Event, ev *stream.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// socketURL converts the HTTP base URL into the chat socket endpoint.
func (c *Client) socketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/chat/ws"
	return u.String(), nil
}

// writeJSON marshals v and writes it as one text frame.
func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
