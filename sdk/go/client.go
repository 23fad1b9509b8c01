package permitflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Permitflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Application represents the API application model (partial).
type Application struct {
	ID            string `json:"id"`
	ApplicationID string `json:"application_id"`
	Status        string `json:"status"`
	CurrentStage  int    `json:"current_stage"`
	Version       int64  `json:"version"`
	ApplicantName string `json:"applicant_name"`
	PermitType    string `json:"permit_type,omitempty"`
}

// Comment represents a workflow comment.
type Comment struct {
	ID                string `json:"id"`
	ApplicationID     string `json:"application_id"`
	AuthorRole        string `json:"author_role"`
	Stage             int    `json:"stage"`
	Text              string `json:"text"`
	IsRejectionReason bool   `json:"is_rejection_reason"`
	CreatedAt         string `json:"created_at"`
}

// Message represents a directed or broadcast message.
type Message struct {
	ID         string  `json:"id"`
	SenderID   string  `json:"sender_id"`
	ReceiverID *string `json:"receiver_id,omitempty"`
	Subject    string  `json:"subject,omitempty"`
	Content    string  `json:"content"`
	IsPublic   bool    `json:"is_public"`
	CreatedAt  string  `json:"created_at"`
	ReadAt     *string `json:"read_at,omitempty"`
}

// BatchDecisionResult is one entry of a batch decision response.
type BatchDecisionResult struct {
	ApplicationID string       `json:"application_id"`
	Application   *Application `json:"application,omitempty"`
	Error         *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateApplication creates an unsubmitted application.
func (c *Client) CreateApplication(ctx context.Context, details map[string]any) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPost, "v0/applications", details, &resp)
	return resp, err
}

// GetApplication fetches an application by id.
func (c *Client) GetApplication(ctx context.Context, id string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodGet, "v0/applications/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListApplications lists applications, optionally filtered by status.
func (c *Client) ListApplications(ctx context.Context, status string) ([]Application, error) {
	endpoint := "v0/applications"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Application
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Submit moves an unsubmitted application into review.
func (c *Client) Submit(ctx context.Context, id string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPost, "v0/applications/"+url.PathEscape(id)+"/submit", nil, &resp)
	return resp, err
}

// Decide records a review decision at the caller's stage.
func (c *Client) Decide(ctx context.Context, id, decision, comment string) (Application, error) {
	body := map[string]any{"decision": decision}
	if comment != "" {
		body["comment"] = comment
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, "v0/applications/"+url.PathEscape(id)+"/decision", body, &resp)
	return resp, err
}

// DecideBatch applies the same decision to several applications; per-item
// failures come back in the result list, not as an error.
func (c *Client) DecideBatch(ctx context.Context, ids []string, decision, comment string) ([]BatchDecisionResult, error) {
	body := map[string]any{
		"application_ids": ids,
		"decision":        decision,
	}
	if comment != "" {
		body["comment"] = comment
	}
	var resp struct {
		Results []BatchDecisionResult `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, "v0/applications/decisions", body, &resp)
	return resp.Results, err
}

// ListComments returns the comments on an application, oldest first.
func (c *Client) ListComments(ctx context.Context, applicationID string) ([]Comment, error) {
	var resp []Comment
	err := c.do(ctx, http.MethodGet, "v0/applications/"+url.PathEscape(applicationID)+"/comments", nil, &resp)
	return resp, err
}

// AddComment appends a standalone comment.
func (c *Client) AddComment(ctx context.Context, applicationID, text string) (Comment, error) {
	var resp Comment
	err := c.do(ctx, http.MethodPost, "v0/applications/"+url.PathEscape(applicationID)+"/comments", map[string]any{"text": text}, &resp)
	return resp, err
}

// SendMessage sends a directed message; pass an empty receiver for broadcast.
func (c *Client) SendMessage(ctx context.Context, receiverID, subject, content string) (Message, error) {
	body := map[string]any{
		"subject": subject,
		"content": content,
	}
	if receiverID != "" {
		body["receiver_id"] = receiverID
	}
	var resp Message
	err := c.do(ctx, http.MethodPost, "v0/messages", body, &resp)
	return resp, err
}

// Messages lists traffic visible to the caller.
func (c *Client) Messages(ctx context.Context, public bool) ([]Message, error) {
	endpoint := "v0/messages"
	if public {
		endpoint += "?public=true"
	}
	var resp []Message
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UnreadCount returns the caller's unread directed message count.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, "v0/messages/unread-count", nil, &resp)
	return resp.Count, err
}

// MarkRead stamps a directed message read.
func (c *Client) MarkRead(ctx context.Context, messageID string) (Message, error) {
	var resp Message
	err := c.do(ctx, http.MethodPost, "v0/messages/"+url.PathEscape(messageID)+"/read", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
