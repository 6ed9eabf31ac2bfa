package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/assistkit/chatcore/internal/model/chat"
)

// transport delivers decoded reply chunks in arrival order. recv
// returns io.EOF when the underlying connection ends cleanly.
type transport interface {
	recv() (chat.StreamChunk, error)
	close() error
}

// sseTransport reads the event-stream endpoint. Each event payload is
// the JSON envelope {content, audio?, suggested_questions?}.
type sseTransport struct {
	reader *eventReader
	cancel context.CancelFunc
}

func dialSSE(ctx context.Context, httpClient *http.Client, baseURL, sessionID string) (transport, error) {
	ctx, cancel := context.WithCancel(ctx)

	endpoint := fmt.Sprintf("%s/chat/stream?session_id=%s", strings.TrimRight(baseURL, "/"), url.QueryEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream endpoint returned status %d", resp.StatusCode)
	}

	return &sseTransport{reader: newEventReader(resp.Body), cancel: cancel}, nil
}

func (t *sseTransport) recv() (chat.StreamChunk, error) {
	payload, err := t.reader.Next()
	if err != nil {
		return chat.StreamChunk{}, err
	}

	var chunk chat.StreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return chat.StreamChunk{}, fmt.Errorf("malformed stream payload: %w", err)
	}
	return chunk, nil
}

func (t *sseTransport) close() error {
	t.cancel()
	return t.reader.Close()
}

// wsTransport reads the websocket delta endpoint. The backend sends
// plain text deltas terminated by a "[DONE]" sentinel; the transport
// accumulates them and synthesizes the same cursor-glyph contract the
// event stream carries, so the assembler treats both alike.
type wsTransport struct {
	conn        *websocket.Conn
	accumulated strings.Builder
	done        bool
}

func dialWebsocket(ctx context.Context, wsURL, sessionID string) (transport, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: 30 * time.Second}

	endpoint := fmt.Sprintf("%s?session_id=%s", strings.TrimRight(wsURL, "/"), url.QueryEscape(sessionID))
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) recv() (chat.StreamChunk, error) {
	if t.done {
		return chat.StreamChunk{}, io.EOF
	}

	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return chat.StreamChunk{}, err
	}

	delta := string(data)
	if delta == "[DONE]" {
		t.done = true
		return chat.StreamChunk{Content: t.accumulated.String()}, nil
	}

	t.accumulated.WriteString(delta)
	return chat.StreamChunk{Content: t.accumulated.String() + CursorGlyph}, nil
}

func (t *wsTransport) close() error {
	return t.conn.Close()
}
