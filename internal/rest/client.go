// Package rest is the client for the marketplace HTTP API the chat surfaces
// collaborate with: message history, send, edit, soft delete, and attachment
// upload. The realtime core never persists anything itself; every mutation
// goes through this collaborator.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/servify/chat-client/internal/files"
	"github.com/servify/chat-client/internal/metrics"
	"github.com/servify/chat-client/internal/protocol"
)

// Message is a chat message record as returned by the API. Soft-deleted
// messages keep their id and sender; the API replaces their content with a
// placeholder and the client suppresses their attachments.
type Message struct {
	ID          string                `json:"id"`
	SenderID    string                `json:"senderId"`
	ReceiverID  string                `json:"receiverId"`
	Content     string                `json:"content"`
	Read        bool                  `json:"read"`
	CreatedAt   string                `json:"createdAt"`
	UpdatedAt   string                `json:"updatedAt,omitempty"`
	Edited      bool                  `json:"edited,omitempty"`
	Deleted     bool                  `json:"deleted,omitempty"`
	Attachments []protocol.Attachment `json:"attachments,omitempty"`
}

// RateLimitError reports an HTTP 429 on a send. The caller must suppress
// further sends for RetryAfter and surface the remaining countdown; the
// message is not silently retried.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rest: rate limited, retry after %s", e.RetryAfter)
}

// Client talks to the marketplace REST API with a bearer credential.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a REST client for the given API base URL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		token:      token,
	}
}

// FetchMessages returns the ordered message history of an order chat.
func (c *Client) FetchMessages(ctx context.Context, orderID string) ([]Message, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/orders/"+orderID+"/messages", nil, "")
	if err != nil {
		return nil, err
	}

	var messages []Message
	if err := c.do(req, &messages); err != nil {
		return nil, fmt.Errorf("rest: fetch messages: %w", err)
	}
	return messages, nil
}

// SendMessage creates a new message in an order chat and returns the stored
// record. Attachments must already be uploaded via UploadAttachment.
func (c *Client) SendMessage(ctx context.Context, orderID, content string, attachments []protocol.Attachment) (Message, error) {
	body, err := json.Marshal(struct {
		Content     string                `json:"content"`
		Attachments []protocol.Attachment `json:"attachments,omitempty"`
	}{Content: content, Attachments: attachments})
	if err != nil {
		return Message{}, fmt.Errorf("rest: marshal message: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/orders/"+orderID+"/messages", bytes.NewReader(body), "application/json")
	if err != nil {
		return Message{}, err
	}

	var msg Message
	if err := c.do(req, &msg); err != nil {
		return Message{}, fmt.Errorf("rest: send message: %w", err)
	}
	metrics.MessagesSent.Inc()
	return msg, nil
}

// EditMessage replaces a message's content and returns the updated record
// with its edited flag set.
func (c *Client) EditMessage(ctx context.Context, orderID, messageID, content string) (Message, error) {
	body, err := json.Marshal(struct {
		Content string `json:"content"`
	}{Content: content})
	if err != nil {
		return Message{}, fmt.Errorf("rest: marshal edit: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPatch, "/orders/"+orderID+"/messages/"+messageID, bytes.NewReader(body), "application/json")
	if err != nil {
		return Message{}, err
	}

	var msg Message
	if err := c.do(req, &msg); err != nil {
		return Message{}, fmt.Errorf("rest: edit message: %w", err)
	}
	return msg, nil
}

// DeleteMessage soft-deletes a message. Subsequent fetches return the record
// with placeholder content.
func (c *Client) DeleteMessage(ctx context.Context, orderID, messageID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/orders/"+orderID+"/messages/"+messageID, nil, "")
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("rest: delete message: %w", err)
	}
	return nil
}

// UploadAttachment uploads one file to an order as a multipart form and
// returns the stored attachment record. File policy checks are the caller's
// responsibility and must happen before this call.
func (c *Client) UploadAttachment(ctx context.Context, orderID, fileName string, content io.Reader) (protocol.Attachment, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", fileName)
	if err != nil {
		return protocol.Attachment{}, fmt.Errorf("rest: build upload form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return protocol.Attachment{}, fmt.Errorf("rest: read attachment %s: %w", fileName, err)
	}
	if err := form.Close(); err != nil {
		return protocol.Attachment{}, fmt.Errorf("rest: finalize upload form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/orders/"+orderID+"/attachments", &buf, form.FormDataContentType())
	if err != nil {
		return protocol.Attachment{}, err
	}

	var att protocol.Attachment
	if err := c.do(req, &att); err != nil {
		return protocol.Attachment{}, fmt.Errorf("rest: upload attachment %s: %w", fileName, err)
	}
	return att, nil
}

// FileTypes fetches the current upload policy from the configuration
// endpoint. Suitable as a files.Source; the policy layer handles caching and
// the fallback to defaults.
func (c *Client) FileTypes(ctx context.Context) ([]files.FileType, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/config/file-types", nil, "")
	if err != nil {
		return nil, err
	}

	var types []files.FileType
	if err := c.do(req, &types); err != nil {
		return nil, fmt.Errorf("rest: fetch file types: %w", err)
	}
	return types, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// do executes the request and decodes the JSON response into out (skipped
// when out is nil). HTTP 429 is surfaced as *RateLimitError with the
// retry-after duration from the response payload.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		metrics.RateLimited.Inc()
		var payload struct {
			RetryAfter int `json:"retryAfter"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.RetryAfter <= 0 {
			payload.RetryAfter = 30
		}
		return &RateLimitError{RetryAfter: time.Duration(payload.RetryAfter) * time.Second}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
