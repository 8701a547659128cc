package hub

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"ripple/cmd/internal/stream"
)

// Max bytes per websocket frame read (hard limit).
const maxWSFrameBytes = 64 << 10 // 64 KiB

// WSTransport is the alternate push transport for environments where
// server-sent events are blocked by intermediaries. One JSON payload per
// text frame, same framing the SSE endpoint delivers in data fields.
type WSTransport struct {
	subscribeURL string
	httpClient   *http.Client
}

// NewWSTransport builds the websocket transport for a hub base URL.
// The URL scheme is rewritten to ws/wss at dial time by the library.
func NewWSTransport(baseURL string, httpClient *http.Client) *WSTransport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &WSTransport{
		subscribeURL: strings.TrimRight(baseURL, "/") + "/subscribe/ws",
		httpClient:   httpClient,
	}
}

// Connect dials the hub's websocket subscribe endpoint for topic.
func (t *WSTransport) Connect(ctx context.Context, topic stream.Topic, token string) (stream.Conn, error) {
	query := url.Values{}
	query.Set("topic", string(topic))

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, response, err := websocket.Dial(ctx, t.subscribeURL+"?"+query.Encode(), &websocket.DialOptions{
		HTTPClient: t.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		if response != nil && (response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: hub returned %d", stream.ErrUnauthorized, response.StatusCode)
		}
		return nil, fmt.Errorf("hub: websocket dial: %w", err)
	}
	conn.SetReadLimit(maxWSFrameBytes)

	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

// Next returns the next text frame. Non-text frames are skipped.
func (c *wsConn) Next(ctx context.Context) ([]byte, error) {
	for {
		messageType, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("hub: websocket read: %w", err)
		}
		if messageType != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "subscription disposed")
}
