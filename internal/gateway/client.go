package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/plumahq/messaging/internal/model"
)

// StatusError is returned when the gateway answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway status %d: %s", e.Code, e.Body)
}

// Client is the typed HTTP client for the platform's messaging gateway.
// It is a thin request/response boundary: responses are handed to the
// thread store as one event source among several, never applied here.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a gateway client. The token is sent as a bearer
// credential on every request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SendMessageRequest is the POST body for the send endpoint.
type SendMessageRequest struct {
	Text           string `json:"text"`
	AttachmentURL  string `json:"attachmentUrl,omitempty"`
	AttachmentType string `json:"attachmentType,omitempty"`
	AttachmentName string `json:"attachmentName,omitempty"`
}

// ThreadWithMessages is the single-thread fetch response.
type ThreadWithMessages struct {
	Thread   model.Thread    `json:"thread"`
	Messages []model.Message `json:"messages"`
}

// ListThreads fetches the viewer's accepted threads.
func (c *Client) ListThreads(ctx context.Context) ([]model.Thread, error) {
	var out []model.Thread
	err := c.do(ctx, http.MethodGet, "/threads", nil, &out)
	return out, err
}

// ListRequests fetches pending, unaccepted threads.
func (c *Client) ListRequests(ctx context.Context) ([]model.Thread, error) {
	var out []model.Thread
	err := c.do(ctx, http.MethodGet, "/threads/requests", nil, &out)
	return out, err
}

// GetThread fetches one thread and its messages.
func (c *Client) GetThread(ctx context.Context, threadID string) (*ThreadWithMessages, error) {
	var out ThreadWithMessages
	if err := c.do(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage posts a new message and returns the server-confirmed entry.
func (c *Client) SendMessage(ctx context.Context, threadID string, req SendMessageRequest) (*model.Message, error) {
	var out model.Message
	if err := c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/messages", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkSeen records the viewer's seen mark on a thread.
func (c *Client) MarkSeen(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodPut, "/threads/"+url.PathEscape(threadID)+"/seen", nil, nil)
}

// AddReaction sets the viewer's emoji on a message.
func (c *Client) AddReaction(ctx context.Context, messageID, emoji string) error {
	body := map[string]string{"emoji": emoji}
	return c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/reactions", body, nil)
}

// RemoveReaction clears the viewer's emoji from a message.
func (c *Client) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID)+"/reactions/"+url.PathEscape(emoji), nil, nil)
}

// AcceptRequest accepts a pending thread request.
func (c *Client) AcceptRequest(ctx context.Context, threadID string) error {
	body := map[string]string{"action": "accept"}
	return c.do(ctx, http.MethodPut, "/threads/"+url.PathEscape(threadID)+"/request", body, nil)
}

// DeclineRequest declines a pending thread request.
func (c *Client) DeclineRequest(ctx context.Context, threadID string) error {
	body := map[string]string{"action": "decline"}
	return c.do(ctx, http.MethodPut, "/threads/"+url.PathEscape(threadID)+"/request", body, nil)
}

// ListMutuals fetches the viewer's mutual connections.
func (c *Client) ListMutuals(ctx context.Context) ([]model.User, error) {
	var out []model.User
	err := c.do(ctx, http.MethodGet, "/connections/mutuals", nil, &out)
	return out, err
}

// SearchUsers searches users by query.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	var out []model.User
	err := c.do(ctx, http.MethodGet, "/users/search?q="+url.QueryEscape(query), nil, &out)
	return out, err
}

// CreateThread opens (or returns) the direct thread with a target user.
func (c *Client) CreateThread(ctx context.Context, targetUserID string) (*model.Thread, error) {
	body := map[string]string{"userId": targetUserID}
	var out model.Thread
	if err := c.do(ctx, http.MethodPost, "/threads", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSettings fetches the viewer's messaging settings.
func (c *Client) GetSettings(ctx context.Context) (model.Settings, error) {
	var out model.Settings
	err := c.do(ctx, http.MethodGet, "/settings", nil, &out)
	return out, err
}

// UpdateSettings round-trips the viewer's messaging settings.
func (c *Client) UpdateSettings(ctx context.Context, settings model.Settings) error {
	return c.do(ctx, http.MethodPut, "/settings", settings, nil)
}

// DeleteThread soft-deletes a thread for the viewer.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodDelete, "/threads/"+url.PathEscape(threadID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
