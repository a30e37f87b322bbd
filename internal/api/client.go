// Package api provides the typed HTTP client for the roadmap backend.
// The backend is an opaque collaborator; only the endpoints the
// synchronization subsystem needs are wrapped here.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/741311791/roadmap-agent-sub009/internal/roadmap"
)

const defaultTimeout = 30 * time.Second

// Client is an HTTP client for the roadmap backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client rooted at baseURL (e.g. http://localhost:8000).
// A non-positive timeout falls back to 30s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WSBaseURL derives the websocket root from the HTTP base URL.
func (c *Client) WSBaseURL() string {
	ws := strings.Replace(c.baseURL, "http://", "ws://", 1)
	return strings.Replace(ws, "https://", "wss://", 1)
}

// doJSON executes one request with an optional JSON body and decodes the
// response into out when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v1"+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server error: %s - %s", resp.Status, string(data))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// GetRoadmap fetches the full roadmap tree.
func (c *Client) GetRoadmap(ctx context.Context, roadmapID string) (*roadmap.Roadmap, error) {
	var out roadmap.Roadmap
	if err := c.doJSON(ctx, http.MethodGet, "/roadmaps/"+roadmapID, nil, &out); err != nil {
		return nil, fmt.Errorf("get roadmap: %w", err)
	}
	return &out, nil
}

// ActiveTaskResponse reports whether a roadmap has an in-flight task.
type ActiveTaskResponse struct {
	HasActiveTask bool               `json:"has_active_task"`
	TaskID        string             `json:"task_id,omitempty"`
	Status        roadmap.TaskStatus `json:"status,omitempty"`
	CurrentStep   string             `json:"current_step,omitempty"`
}

// GetActiveTask asks whether a roadmap has an active backend task.
func (c *Client) GetActiveTask(ctx context.Context, roadmapID string) (*ActiveTaskResponse, error) {
	var out ActiveTaskResponse
	if err := c.doJSON(ctx, http.MethodGet, "/roadmaps/"+roadmapID+"/active-task", nil, &out); err != nil {
		return nil, fmt.Errorf("get active task: %w", err)
	}
	return &out, nil
}

// GetTaskStatus fetches the current status projection of one task.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (*roadmap.Task, error) {
	var out roadmap.Task
	if err := c.doJSON(ctx, http.MethodGet, "/roadmaps/"+taskID+"/status", nil, &out); err != nil {
		return nil, fmt.Errorf("get task status: %w", err)
	}
	return &out, nil
}

// StatusCheckResponse lists in-flight per-concept jobs and stale concepts.
type StatusCheckResponse struct {
	HasActiveTask bool                   `json:"has_active_task"`
	ActiveTasks   []roadmap.ActiveTask   `json:"active_tasks"`
	StaleConcepts []roadmap.StaleConcept `json:"stale_concepts"`
}

// StatusCheck runs the quick per-concept status check for a roadmap.
func (c *Client) StatusCheck(ctx context.Context, roadmapID string) (*StatusCheckResponse, error) {
	var out StatusCheckResponse
	if err := c.doJSON(ctx, http.MethodGet, "/roadmaps/"+roadmapID+"/status-check", nil, &out); err != nil {
		return nil, fmt.Errorf("status check: %w", err)
	}
	return &out, nil
}

type approveRequest struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// ApproveReview resolves the human-review gate for a task.
func (c *Client) ApproveReview(ctx context.Context, taskID string, approved bool, feedback string) error {
	req := approveRequest{Approved: approved, Feedback: feedback}
	if err := c.doJSON(ctx, http.MethodPost, "/roadmaps/"+taskID+"/approve", req, nil); err != nil {
		return fmt.Errorf("approve review: %w", err)
	}
	return nil
}

type retryRequest struct {
	Preferences  map[string]any        `json:"preferences,omitempty"`
	ContentTypes []roadmap.ContentType `json:"content_types"`
}

// RetryResponse describes the retry task the backend started.
type RetryResponse struct {
	TaskID       string             `json:"task_id"`
	Status       roadmap.TaskStatus `json:"status"`
	ItemsToRetry int                `json:"items_to_retry"`
}

// RetryFailed re-runs only failed content of the given types for a roadmap.
func (c *Client) RetryFailed(ctx context.Context, roadmapID string, preferences map[string]any, contentTypes []roadmap.ContentType) (*RetryResponse, error) {
	req := retryRequest{Preferences: preferences, ContentTypes: contentTypes}
	var out RetryResponse
	if err := c.doJSON(ctx, http.MethodPost, "/roadmaps/"+roadmapID+"/retry-failed", req, &out); err != nil {
		return nil, fmt.Errorf("retry failed content: %w", err)
	}
	return &out, nil
}
