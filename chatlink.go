// Package chatlink is the Go client for the CRM chat backend.
//
// It covers the live chat connection (reconnecting websocket with heartbeat
// and event normalization) and the REST endpoints used when the live
// connection is unavailable.
//
// Example:
//
//	client := chatlink.NewClient(token, chatlink.WithBaseURL("https://crm.example.com"))
//
//	live := client.Realtime("thread-42", func(ev chatlink.Event) {
//		fmt.Println(ev.Type, ev.Data)
//	}, nil)
//	defer live.Close()
//
//	route, err := client.Deliver(ctx, live, "thread-42", "Hello!")
//	client.Threads.MarkRead(ctx, "thread-42")
package chatlink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 30 * time.Second
)

// ErrNoThread is returned when a thread id is required but empty.
var ErrNoThread = errors.New("chatlink: thread id is required")

// ============================================================================
// Client
// ============================================================================

// Client talks to the chat REST API and hands out realtime clients bound to
// the same base URL and token.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	Messages *MessagesClient
	Threads  *ThreadsClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new chat client.
// token is optional; pass "" for endpoints that do not need auth.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Messages = &MessagesClient{c: c}
	c.Threads = &ThreadsClient{c: c}
	return c
}

// SetToken sets or updates the auth token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the HTTP base URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Target returns the live connection target for a thread, using the client's
// base URL and token.
func (c *Client) Target(threadID string) Target {
	return Target{ConversationID: threadID, Token: c.token, BaseURL: c.baseURL}
}

// Realtime starts a realtime client connected to threadID. A nil config uses
// the defaults with the client's logger.
func (c *Client) Realtime(threadID string, handler Handler, config *RealtimeConfig) *RealtimeClient {
	var cfg RealtimeConfig
	if config != nil {
		cfg = *config
	}
	if cfg.Logger == nil {
		cfg.Logger = c.logger
	}
	rc := NewRealtimeClient(handler, &cfg)
	if threadID != "" {
		rc.SetTarget(c.Target(threadID))
	}
	return rc
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values, header http.Header) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, data)
		c.logger.Debug("chat api error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code),
		)
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if len(bytes.TrimSpace(data)) == 0 {
		return &result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// parseAPIError reads the error body. Both {"detail": "..."} and
// {"error": {"code": ..., "message": ...}} bodies are understood.
func parseAPIError(status int, data []byte) *APIError {
	apiErr := &APIError{Status: status}
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   *APIError       `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		switch {
		case body.Error != nil:
			apiErr.Code = body.Error.Code
			apiErr.Message = body.Error.Message
		case len(body.Detail) > 0:
			var s string
			if json.Unmarshal(body.Detail, &s) == nil {
				apiErr.Message = s
			} else {
				apiErr.Message = string(body.Detail)
			}
		default:
			apiErr.Message = body.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

func threadPath(threadID string, suffix string) (string, error) {
	if threadID == "" {
		return "", ErrNoThread
	}
	return "/api/v1/chat/threads/" + url.PathEscape(threadID) + suffix, nil
}

func paginationQuery(opts *PaginationOptions) url.Values {
	if opts == nil {
		return nil
	}
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// ============================================================================
// Sub-Clients
// ============================================================================

// MessagesClient handles thread messages.
type MessagesClient struct{ c *Client }

// Send posts a message over REST. Each call carries a fresh Idempotency-Key
// unless opts provides one.
func (m *MessagesClient) Send(ctx context.Context, threadID, body string, opts *SendOptions) (*Message, error) {
	path, err := threadPath(threadID, "/messages")
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{"body": body}
	key := uuid.NewString()
	if opts != nil {
		if opts.IdempotencyKey != "" {
			key = opts.IdempotencyKey
		}
		if opts.Channel != "" {
			payload["channel"] = opts.Channel
		}
		if opts.Metadata != nil {
			payload["metadata"] = opts.Metadata
		}
	}
	header := http.Header{}
	header.Set("Idempotency-Key", key)

	data, err := m.c.doRequest(ctx, http.MethodPost, path, payload, nil, header)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// History lists messages in a thread, newest first.
func (m *MessagesClient) History(ctx context.Context, threadID string, opts *PaginationOptions) ([]Message, error) {
	path, err := threadPath(threadID, "/messages")
	if err != nil {
		return nil, err
	}
	data, err := m.c.doRequest(ctx, http.MethodGet, path, nil, paginationQuery(opts), nil)
	if err != nil {
		return nil, err
	}
	page, err := decodeJSON[messagePage](data)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// ThreadsClient handles conversation threads.
type ThreadsClient struct{ c *Client }

// List returns the caller's threads.
func (t *ThreadsClient) List(ctx context.Context, unreadOnly bool) ([]Thread, error) {
	var q url.Values
	if unreadOnly {
		q = url.Values{"unread": {"true"}}
	}
	data, err := t.c.doRequest(ctx, http.MethodGet, "/api/v1/chat/threads", nil, q, nil)
	if err != nil {
		return nil, err
	}
	page, err := decodeJSON[threadPage](data)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// MarkRead marks every message in a thread as read.
func (t *ThreadsClient) MarkRead(ctx context.Context, threadID string) error {
	path, err := threadPath(threadID, "/read")
	if err != nil {
		return err
	}
	_, err = t.c.doRequest(ctx, http.MethodPost, path, nil, nil, nil)
	return err
}
