// Package remote is the HTTP client for the GraphNode API.
//
// It implements the scheduler's view of the remote service: note create,
// update and delete, conversation (thread) update and delete, the note
// listing used for pulls, and a health probe used for reachability. Any 2xx
// response is a delivery; every other status becomes a *StatusError carrying
// the status code and a bounded copy of the response body.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/graphnode/gnsync/internal/store/schema"
)

// DefaultTimeout bounds every request when the config gives none.
const DefaultTimeout = 15 * time.Second

const maxErrorBody = 1024

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Client provides access to the GraphNode REST API. It is safe for
// concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
}

// NewClient creates a client for baseURL (scheme and host, optional path
// prefix). timeout <= 0 uses DefaultTimeout.
func NewClient(baseURL, authToken string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("remote base URL cannot be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid remote base URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		authToken:  authToken,
	}, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// noteDTO is the remote representation of a note.
type noteDTO struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	FolderID  *string   `json:"folderId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateNote sends POST /notes.
func (c *Client) CreateNote(ctx context.Context, payload schema.Payload) error {
	return c.do(ctx, http.MethodPost, "/notes", payload, nil)
}

// UpdateNote sends PATCH /notes/{id}. Used for content updates and moves.
func (c *Client) UpdateNote(ctx context.Context, id string, payload schema.Payload) error {
	return c.do(ctx, http.MethodPatch, "/notes/"+url.PathEscape(id), payload, nil)
}

// DeleteNote sends DELETE /notes/{id}. A 404 means the note is already gone
// and counts as delivered.
func (c *Client) DeleteNote(ctx context.Context, id string) error {
	return ignoreNotFound(c.do(ctx, http.MethodDelete, "/notes/"+url.PathEscape(id), nil, nil))
}

// UpdateThread sends PATCH /conversations/{id}.
func (c *Client) UpdateThread(ctx context.Context, id string, payload schema.Payload) error {
	return c.do(ctx, http.MethodPatch, "/conversations/"+url.PathEscape(id), payload, nil)
}

// DeleteThread sends DELETE /conversations/{id}. A 404 counts as delivered.
func (c *Client) DeleteThread(ctx context.Context, id string) error {
	return ignoreNotFound(c.do(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, nil))
}

// ListNotes sends GET /notes and converts the result to local notes. Titles
// missing on the remote are derived from content.
func (c *Client) ListNotes(ctx context.Context) ([]*schema.Note, error) {
	var dtos []noteDTO
	if err := c.do(ctx, http.MethodGet, "/notes", nil, &dtos); err != nil {
		return nil, err
	}

	notes := make([]*schema.Note, 0, len(dtos))
	for _, dto := range dtos {
		title := dto.Title
		if title == "" {
			title = schema.ExtractTitle(dto.Content)
		}
		notes = append(notes, &schema.Note{
			ID:        dto.ID,
			Title:     title,
			Content:   dto.Content,
			FolderID:  dto.FolderID,
			CreatedAt: dto.CreatedAt,
			UpdatedAt: dto.UpdatedAt,
		})
	}
	return notes, nil
}

// Health sends GET /health and succeeds on any 2xx status.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// do performs a JSON request and decodes a JSON response into target when
// target is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, target any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if target == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func ignoreNotFound(err error) error {
	if IsNotFound(err) {
		return nil
	}
	return err
}
