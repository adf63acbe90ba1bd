// Package client is the HTTP client for the coordinator API, shared by the
// worker agent and the submission CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rahulmehra-dev/convoy/internal/cluster"
	"github.com/rahulmehra-dev/convoy/pkg/models"
)

// Sentinel errors for coordinator client failures.
var (
	ErrUnreachable  = errors.New("coordinator unreachable")
	ErrTimeout      = errors.New("coordinator request timeout")
	ErrUnauthorized = errors.New("coordinator rejected credentials")
	ErrNotFound     = errors.New("resource not found")
)

// APIError carries a structured error body returned by the coordinator.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coordinator error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// SubmitRequest is the payload for a new submission.
type SubmitRequest struct {
	ArtifactPath string   `json:"artifact_path"`
	EntryPoint   string   `json:"entry_point"`
	Args         []string `json:"args,omitempty"`
	DeployMode   string   `json:"deploy_mode,omitempty"`
	Supervise    bool     `json:"supervise,omitempty"`
}

// Client talks to the coordinator's HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates a coordinator client. baseURL has no trailing slash.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Health checks the public health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil)
}

// Submit registers a new submission and returns its id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	var out struct {
		SubmissionID uuid.UUID `json:"submission_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/submissions", req, &out); err != nil {
		return uuid.Nil, err
	}
	return out.SubmissionID, nil
}

// Status fetches the current submission record.
func (c *Client) Status(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	var out models.Submission
	if err := c.do(ctx, http.MethodGet, "/api/v1/submissions/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel requests cancellation of a submission.
func (c *Client) Cancel(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	var out models.Submission
	if err := c.do(ctx, http.MethodPost, "/api/v1/submissions/"+id.String()+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Snapshot fetches the monitoring view of the cluster.
func (c *Client) Snapshot(ctx context.Context) (*cluster.Snapshot, error) {
	var out cluster.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/cluster", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterWorker announces a worker to the coordinator.
func (c *Client) RegisterWorker(ctx context.Context, identity string, capacity int) error {
	body := map[string]any{"identity": identity, "capacity": capacity}
	return c.do(ctx, http.MethodPost, "/api/v1/workers", body, nil)
}

// Heartbeat refreshes worker liveness. The returned ids are submissions the
// coordinator wants aborted.
func (c *Client) Heartbeat(ctx context.Context, identity string) ([]uuid.UUID, error) {
	var out struct {
		Cancel []uuid.UUID `json:"cancel"`
	}
	path := "/api/v1/workers/" + identity + "/heartbeat"
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Cancel, nil
}

// Deregister removes the worker's registration.
func (c *Client) Deregister(ctx context.Context, identity string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/workers/"+identity, nil, nil)
}

// PollTask asks for the next assigned task. A nil task means no work.
func (c *Client) PollTask(ctx context.Context, identity string) (*cluster.Task, error) {
	var out *cluster.Task
	path := "/api/v1/workers/" + identity + "/task"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AckTask confirms receipt of a task, moving the submission to RUNNING.
func (c *Client) AckTask(ctx context.Context, identity string, id uuid.UUID) error {
	path := fmt.Sprintf("/api/v1/workers/%s/task/%s/ack", identity, id)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// ReportResult delivers the terminal outcome of a task.
func (c *Client) ReportResult(ctx context.Context, identity string, id uuid.UUID, success bool, cause, outputPath string) error {
	body := map[string]any{
		"success":       success,
		"failure_cause": cause,
		"output_path":   outputPath,
	}
	path := fmt.Sprintf("/api/v1/workers/%s/task/%s/result", identity, id)
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// do performs a request and decodes the envelope's data field into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Code: "UNKNOWN", Message: "unparseable error body"}
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Code:       envelope.Error.Code,
		Message:    envelope.Error.Message,
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	}
	return apiErr
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
