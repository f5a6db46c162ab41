// Package trucksbus provides the Go SDK for the TrucksBus marketplace
// messaging backend.
//
// It covers the REST messaging API and a realtime Messenger that keeps a
// WebSocket channel open, tracks joined conversations, deduplicates inbound
// messages, and maintains the unread badge.
//
// Example:
//
//	client := trucksbus.NewClient(trucksbus.WithBaseURL("https://api.example.com/api"))
//	client.SetToken(token)
//
//	// REST
//	convs, _ := client.Messaging().GetConversations(ctx)
//
//	// Realtime
//	m := client.Realtime().NewMessenger(nil)
//	m.OnMessage(trucksbus.NewSubscriber(func(msg trucksbus.Message) { ... }))
//	_ = m.Connect(trucksbus.Session{UserID: "u1", Role: "USER", Token: token})
//	defer m.Disconnect()
package trucksbus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// Environment
// ============================================================================

const (
	DefaultBaseURL = "http://localhost:3005/api"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	mu         sync.RWMutex
	token      string
	baseURL    string
	socketURL  string
	httpClient *http.Client
	messaging  *MessagingClient
	realtime   *RealtimeClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithSocketURL overrides the realtime endpoint origin. By default it is the
// origin of the base URL.
func WithSocketURL(url string) ClientOption {
	return func(c *Client) { c.socketURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// NewClient creates a new TrucksBus client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.messaging = &MessagingClient{client: c}
	c.realtime = &RealtimeClient{client: c}
	return c
}

// SetToken sets or updates the bearer token used for REST calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Messaging returns the REST messaging sub-client.
func (c *Client) Messaging() *MessagingClient {
	return c.messaging
}

// Realtime returns the realtime sub-client.
func (c *Client) Realtime() *RealtimeClient {
	return c.realtime
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
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

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
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
	if resp.StatusCode >= 400 {
		return nil, apiErrorFromResponse(resp.StatusCode, data)
	}
	return data, nil
}

func apiErrorFromResponse(status int, data []byte) *APIError {
	apiErr := &APIError{Status: status, Code: http.StatusText(status)}
	var body struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		switch e := body.Error.(type) {
		case string:
			apiErr.Message = e
		case map[string]any:
			apiErr.Code = strOr(e, "code", apiErr.Code)
			apiErr.Message = strOr(e, "message", "")
		}
		if apiErr.Message == "" {
			apiErr.Message = body.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Messaging API
// ============================================================================

// MessagingService is the request/response backend the realtime layer
// reconciles against. *MessagingClient implements it.
type MessagingService interface {
	GetConversations(ctx context.Context) (*ConversationsResult, error)
	GetUnreadCount(ctx context.Context) (*UnreadCountResult, error)
	MarkAllMessagesRead(ctx context.Context, conversationID string) error
	SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResult, error)
}

// MessagingClient handles conversations, messages and unread counters.
type MessagingClient struct{ client *Client }

var _ MessagingService = (*MessagingClient)(nil)

// SetToken updates the bearer token of the owning client.
func (m *MessagingClient) SetToken(token string) {
	m.client.SetToken(token)
}

// GetConversations lists the conversations of the current user.
func (m *MessagingClient) GetConversations(ctx context.Context) (*ConversationsResult, error) {
	data, err := m.client.doRequest(ctx, "GET", "/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[ConversationsResult](data)
	if err != nil {
		return nil, err
	}
	for i := range res.Conversations {
		if lm := res.Conversations[i].LastMessage; lm != nil && lm.Content == "" {
			lm.Content = lm.Body
		}
	}
	return res, nil
}

// GetUnreadCount returns the authoritative unread total.
func (m *MessagingClient) GetUnreadCount(ctx context.Context) (*UnreadCountResult, error) {
	data, err := m.client.doRequest(ctx, "GET", "/me/unread-count", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[UnreadCountResult](data)
}

// MarkAllMessagesRead sends the read receipt for a whole conversation.
func (m *MessagingClient) MarkAllMessagesRead(ctx context.Context, conversationID string) error {
	data, err := m.client.doRequest(ctx, "PUT", "/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil)
	if err != nil {
		return err
	}
	res, err := decodeJSON[StatusResult](data)
	if err != nil {
		return err
	}
	if !res.Success {
		return &APIError{Code: "MARK_READ_FAILED", Message: res.Message}
	}
	return nil
}

// SendMessage persists a message over HTTP. Both content and body are sent
// because backend revisions disagree on the field name.
func (m *MessagingClient) SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResult, error) {
	if req.ConversationID == "" {
		return nil, &APIError{Code: "INVALID_INPUT", Message: "conversation id is required"}
	}
	if req.Body == "" {
		req.Body = req.Content
	}
	if req.Content == "" {
		req.Content = req.Body
	}
	data, err := m.client.doRequest(ctx, "POST", "/conversations/"+url.PathEscape(req.ConversationID)+"/messages", req, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[SendMessageResult](data)
}

// GetMessages returns one page of conversation history, normalized.
func (m *MessagingClient) GetMessages(ctx context.Context, conversationID string, page, limit int) ([]Message, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	query := map[string]string{"page": fmt.Sprintf("%d", page), "limit": fmt.Sprintf("%d", limit)}
	data, err := m.client.doRequest(ctx, "GET", "/conversations/"+url.PathEscape(conversationID)+"/messages", nil, query)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[MessagesResult](data)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(res.Messages))
	for _, raw := range res.Messages {
		if msg, ok := normalizeMessage(raw); ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// ============================================================================
// Realtime factory
// ============================================================================

// RealtimeClient builds realtime connections bound to this client.
type RealtimeClient struct{ client *Client }

// WSUrl returns the WebSocket URL for the given token.
func (r *RealtimeClient) WSUrl(token string) string {
	base := r.client.socketURL
	if base == "" {
		base = originOf(r.client.baseURL)
	}
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	if token != "" {
		return base + "/ws?token=" + url.QueryEscape(token)
	}
	return base + "/ws"
}

// NewMessenger creates a Messenger that talks to this client's backend.
// A nil config uses DefaultRealtimeConfig. Call Connect to start it.
func (r *RealtimeClient) NewMessenger(config *RealtimeConfig) *Messenger {
	return NewMessenger(r.WSUrl, r.client.messaging, config)
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	return u.Scheme + "://" + u.Host
}
