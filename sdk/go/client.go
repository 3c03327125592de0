package phaselinesdk

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

// Client is a minimal Phaseline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	ActorID     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	ParentID     string   `json:"parent_id,omitempty"`
	Title        string   `json:"title"`
	Phase        string   `json:"phase"`
	Status       string   `json:"status"`
	Priority     int      `json:"priority"`
	Requirements []string `json:"requirements,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty"`
}

// Project represents the API project model (partial).
type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	CurrentPhase string `json:"current_phase"`
}

// Session represents an agent session.
type Session struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id"`
	ActorType  string         `json:"actor_type"`
	TaskID     string         `json:"task_id,omitempty"`
	Context    map[string]any `json:"context"`
	Summary    string         `json:"summary,omitempty"`
	LastActive string         `json:"last_active"`
}

// Checkpoint represents an immutable workflow snapshot.
type Checkpoint struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Phase     string          `json:"phase"`
	State     CheckpointState `json:"state"`
	CreatedAt string          `json:"created_at"`
}

// CheckpointState is the snapshot payload inside a checkpoint.
type CheckpointState struct {
	CompletedTasks []string       `json:"completed_tasks"`
	CurrentTask    string         `json:"current_task,omitempty"`
	Deliverables   map[string]any `json:"deliverables,omitempty"`
}

// HandoffResult is returned when a phase is closed.
type HandoffResult struct {
	Checkpoint Checkpoint `json:"checkpoint"`
	NextPhase  string     `json:"next_phase"`
}

// ResumeState reconstructs where a workflow left off.
type ResumeState struct {
	Project        Project     `json:"project"`
	CurrentPhase   string      `json:"current_phase"`
	Checkpoint     *Checkpoint `json:"checkpoint,omitempty"`
	PendingTasks   []Task      `json:"pending_tasks"`
	CompletedTasks []Task      `json:"completed_tasks"`
}

// SessionBundle is the per-actor context map plus raw sessions.
type SessionBundle struct {
	Contexts map[string]map[string]any `json:"contexts"`
	Sessions []Session                 `json:"sessions"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, name, description string) (Project, error) {
	body := map[string]any{"name": name}
	if description != "" {
		body["description"] = description
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// CreateTask creates a task in the client's project.
func (c *Client) CreateTask(ctx context.Context, title, phase string, dependsOn []string) (Task, error) {
	body := map[string]any{
		"project_id": c.ProjectID,
		"title":      title,
		"phase":      phase,
	}
	if len(dependsOn) > 0 {
		body["depends_on"] = dependsOn
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// UpdateTaskStatus moves a task to a new status.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// SaveContext merges a context delta into the actor's session.
func (c *Client) SaveContext(ctx context.Context, actorType string, delta map[string]any, summary string) (Session, error) {
	body := map[string]any{
		"project_id": c.ProjectID,
		"actor_type": actorType,
		"context":    delta,
	}
	if summary != "" {
		body["summary"] = summary
	}
	var resp Session
	err := c.do(ctx, http.MethodPost, "v0/sessions", body, &resp)
	return resp, err
}

// LoadContexts fetches every session context for the project.
func (c *Client) LoadContexts(ctx context.Context) (SessionBundle, error) {
	var resp SessionBundle
	err := c.do(ctx, http.MethodGet, c.projectPath("sessions"), nil, &resp)
	return resp, err
}

// Handoff closes the given phase and advances the project.
func (c *Client) Handoff(ctx context.Context, phase string, deliverables map[string]any, notes string) (HandoffResult, error) {
	body := map[string]any{"current_phase": phase}
	if len(deliverables) > 0 {
		body["deliverables"] = deliverables
	}
	if notes != "" {
		body["notes"] = notes
	}
	var resp HandoffResult
	err := c.do(ctx, http.MethodPost, c.projectPath("handoff"), body, &resp)
	return resp, err
}

// Resume reconstructs workflow state from the latest checkpoint.
func (c *Client) Resume(ctx context.Context) (ResumeState, error) {
	var resp ResumeState
	err := c.do(ctx, http.MethodGet, c.projectPath("resume"), nil, &resp)
	return resp, err
}

// Checkpoints lists the project's checkpoints, newest first.
func (c *Client) Checkpoints(ctx context.Context) ([]Checkpoint, error) {
	var resp []Checkpoint
	err := c.do(ctx, http.MethodGet, c.projectPath("checkpoints"), nil, &resp)
	return resp, err
}

// Events returns recent events for the project.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v0/events?project_id=%s", url.QueryEscape(c.ProjectID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
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

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
