package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ripple/cmd/internal/stream"
	v1 "ripple/shared/contracts/stream/v1"
)

// Same ceiling the subscribe transports apply to one event frame.
const maxResponseBytes = 1 << 20 // 1 MiB

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the hub's base URL (e.g., "http://localhost:8080").
	BaseURL string
	// AuthToken is the human user's own session bearer, sent on every REST
	// request. It is distinct from the short-lived stream token, which only
	// authorizes the push channel.
	AuthToken string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client talks to a Ripple hub. It implements stream.TokenIssuer and
// stream.Sender directly; MessageHistory and NotificationHistory return
// the typed history sources.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a hub client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("hub: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("hub: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		authToken:  cfg.AuthToken,
		httpClient: httpClient,
		log:        log,
	}, nil
}

// IssueStreamToken requests a short-lived token scoped to the given topics.
func (c *Client) IssueStreamToken(ctx context.Context, topics []stream.Topic) (stream.AccessToken, error) {
	request := struct {
		Topics []stream.Topic `json:"topics"`
	}{Topics: topics}

	body, err := c.doRequest(ctx, http.MethodPost, "/authz/stream-token", nil, request)
	if err != nil {
		return stream.AccessToken{}, fmt.Errorf("hub: stream token: %w", err)
	}

	var response struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return stream.AccessToken{}, fmt.Errorf("hub: parse stream token response: %w", err)
	}
	if response.Token == "" {
		return stream.AccessToken{}, fmt.Errorf("hub: stream token response missing token")
	}

	token := stream.AccessToken{Value: response.Token}
	if response.ExpiresIn > 0 {
		token.ExpiresIn = time.Duration(response.ExpiresIn) * time.Second
	}
	return token, nil
}

// SendMessage persists a message; the hub assigns the canonical id and
// timestamp and fans it out to the conversation topic.
func (c *Client) SendMessage(ctx context.Context, msg v1.Message) (v1.Message, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/messages", nil, msg)
	if err != nil {
		return v1.Message{}, fmt.Errorf("hub: send message: %w", err)
	}
	var sent v1.Message
	if err := json.Unmarshal(body, &sent); err != nil {
		return v1.Message{}, fmt.Errorf("hub: parse send response: %w", err)
	}
	return sent, nil
}

// SendGroupMessage persists a group message addressed to every recipient.
func (c *Client) SendGroupMessage(ctx context.Context, msg v1.Message, recipients []string) (v1.Message, error) {
	request := struct {
		Message    v1.Message `json:"message"`
		Recipients []string   `json:"recipients"`
	}{Message: msg, Recipients: recipients}

	body, err := c.doRequest(ctx, http.MethodPost, "/messages/group", nil, request)
	if err != nil {
		return v1.Message{}, fmt.Errorf("hub: send group message: %w", err)
	}
	var sent v1.Message
	if err := json.Unmarshal(body, &sent); err != nil {
		return v1.Message{}, fmt.Errorf("hub: parse group send response: %w", err)
	}
	return sent, nil
}

// MessageHistory returns the paginated history source for conversations.
func (c *Client) MessageHistory() stream.Source[v1.Message] {
	return messageHistory{client: c}
}

// NotificationHistory returns the paginated history source for notifications.
func (c *Client) NotificationHistory() stream.Source[v1.Notification] {
	return notificationHistory{client: c}
}

// pageEnvelope is the hub's paginated response shape.
type pageEnvelope[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Pages int `json:"pages"`
	Total int `json:"total"`
}

type messageHistory struct{ client *Client }

func (h messageHistory) FetchPage(ctx context.Context, topic stream.Topic, page, limit int) (stream.Page[v1.Message], error) {
	return fetchPage[v1.Message](ctx, h.client, "/messages", topic, page, limit)
}

type notificationHistory struct{ client *Client }

func (h notificationHistory) FetchPage(ctx context.Context, topic stream.Topic, page, limit int) (stream.Page[v1.Notification], error) {
	return fetchPage[v1.Notification](ctx, h.client, "/notifications", topic, page, limit)
}

func fetchPage[T any](ctx context.Context, c *Client, path string, topic stream.Topic, page, limit int) (stream.Page[T], error) {
	query := url.Values{}
	query.Set("topic", string(topic))
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))

	body, err := c.doRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return stream.Page[T]{}, fmt.Errorf("hub: fetch history: %w", err)
	}

	var envelope pageEnvelope[T]
	if err := json.Unmarshal(body, &envelope); err != nil {
		return stream.Page[T]{}, fmt.Errorf("hub: parse history response: %w", err)
	}
	return stream.Page[T]{
		Items: envelope.Items,
		Page:  envelope.Page,
		Pages: envelope.Pages,
		Total: envelope.Total,
	}, nil
}

// doRequest performs an HTTP request against the hub and returns the
// response body. On 2xx, returns the body. On 4xx/5xx, returns an *APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, requestBody any) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	apiErr := &APIError{StatusCode: response.StatusCode}
	if jsonErr := json.Unmarshal(responseBody, apiErr); jsonErr != nil {
		apiErr.Message = strings.TrimSpace(string(responseBody))
	}
	return nil, apiErr
}
