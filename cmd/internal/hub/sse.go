package hub

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"ripple/cmd/internal/stream"
)

// SSETransport connects to the hub's subscribe endpoint using server-sent
// events. This is the default push transport.
type SSETransport struct {
	subscribeURL string
	httpClient   *http.Client
}

// NewSSETransport builds the SSE transport for a hub base URL.
// The http.Client must not carry a global Timeout: the stream stays open
// indefinitely.
func NewSSETransport(baseURL string, httpClient *http.Client) *SSETransport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SSETransport{
		subscribeURL: strings.TrimRight(baseURL, "/") + "/subscribe",
		httpClient:   httpClient,
	}
}

// Connect opens the event stream for topic. The token, when present, rides
// as a bearer credential; 401/403 responses map to stream.ErrUnauthorized
// so the engine rotates the token instead of retrying blindly.
func (t *SSETransport) Connect(ctx context.Context, topic stream.Topic, token string) (stream.Conn, error) {
	query := url.Values{}
	query.Set("topic", string(topic))

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, t.subscribeURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("hub: create subscribe request: %w", err)
	}
	request.Header.Set("Accept", "text/event-stream")
	request.Header.Set("Cache-Control", "no-cache")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := t.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("hub: subscribe: %w", err)
	}
	if response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden {
		response.Body.Close()
		return nil, fmt.Errorf("%w: hub returned %d", stream.ErrUnauthorized, response.StatusCode)
	}
	if response.StatusCode != http.StatusOK {
		response.Body.Close()
		return nil, fmt.Errorf("hub: subscribe returned %d", response.StatusCode)
	}

	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxResponseBytes)
	return &sseConn{response: response, scanner: scanner}, nil
}

// sseConn reads one event-stream framing off the wire. The request context
// passed to Connect governs the underlying socket: cancelling it unblocks
// any Next call with an error.
type sseConn struct {
	response *http.Response
	scanner  *bufio.Scanner
}

// Next returns the data payload of the next event. Multi-line data fields
// are joined with newlines per the event-stream format; comment lines
// (heartbeats) and non-data fields are skipped.
func (c *sseConn) Next(ctx context.Context) ([]byte, error) {
	var data []string
	for c.scanner.Scan() {
		line := strings.TrimSuffix(c.scanner.Text(), "\r")

		if line == "" {
			// Event boundary.
			if len(data) > 0 {
				return []byte(strings.Join(data, "\n")), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field == "data" {
			data = append(data, value)
		}
		// id/event/retry fields are not used by the hub protocol.
	}

	if err := c.scanner.Err(); err != nil {
		return nil, fmt.Errorf("hub: event stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("hub: event stream closed")
}

func (c *sseConn) Close() error {
	return c.response.Body.Close()
}
