package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/meshworks/mesh/internal/scheduler"
	"github.com/meshworks/mesh/pkg/taskboard"
)

// Client is a typed HTTP client for the coordinator API. Error responses are
// mapped back onto the core sentinel errors, so callers use the same
// errors.Is checks whether they run in-process or over the wire.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates a client for the coordinator at baseURL
// (e.g. "http://localhost:8600").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

// PickTask asks the scheduler for the next eligible task. A nil Task in the
// response with a populated NoWork reason is the normal empty-queue result.
func (c *Client) PickTask(ctx context.Context, req *PickTaskRequest) (*PickTaskResponse, error) {
	var res PickTaskResponse
	if err := c.post(ctx, "/v1/tasks/pick", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ClaimTask claims a specific pending task.
func (c *Client) ClaimTask(ctx context.Context, req *ClaimTaskRequest) (*ClaimTaskResponse, error) {
	var res ClaimTaskResponse
	if err := c.post(ctx, "/v1/tasks/claim", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RenewLease refreshes the heartbeat for a live lease.
func (c *Client) RenewLease(ctx context.Context, req *RenewLeaseRequest) error {
	var res OKResponse
	return c.post(ctx, "/v1/tasks/renew", req, &res)
}

// CompleteTask reports the outcome of executed work.
func (c *Client) CompleteTask(ctx context.Context, req *CompleteTaskRequest) error {
	var res OKResponse
	return c.post(ctx, "/v1/tasks/complete", req, &res)
}

// ApproveWork applies a reviewer approval.
func (c *Client) ApproveWork(ctx context.Context, req *ApproveWorkRequest) error {
	var res OKResponse
	return c.post(ctx, "/v1/tasks/approve", req, &res)
}

// RejectWork applies a reviewer rejection.
func (c *Client) RejectWork(ctx context.Context, req *RejectWorkRequest) error {
	var res OKResponse
	return c.post(ctx, "/v1/tasks/reject", req, &res)
}

// ListTasks returns the full task table.
func (c *Client) ListTasks(ctx context.Context) (*TaskListResponse, error) {
	var res TaskListResponse
	if err := c.get(ctx, "/v1/tasks", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListWorkers returns the live worker view.
func (c *Client) ListWorkers(ctx context.Context) (*WorkerListResponse, error) {
	var res WorkerListResponse
	if err := c.get(ctx, "/v1/workers", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// AcceptPlan submits a draft plan file for acceptance.
func (c *Client) AcceptPlan(ctx context.Context, draftPath string) (*AcceptPlanResponse, error) {
	var res AcceptPlanResponse
	if err := c.post(ctx, "/v1/plan/accept", &AcceptPlanRequest{DraftPath: draftPath}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PlanDrift reports drift for the draft at draftPath.
func (c *Client) PlanDrift(ctx context.Context, draftPath string) (*DriftResponse, error) {
	var res DriftResponse
	if err := c.get(ctx, "/v1/plan/drift?draft="+url.QueryEscape(draftPath), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) post(ctx context.Context, path string, body, dst any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, dst)
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, dst)
}

func (c *Client) do(req *http.Request, dst any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("coordinator unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return json.NewDecoder(resp.Body).Decode(dst)
	}

	data, _ := io.ReadAll(resp.Body)
	var apiErr ErrorResponse
	if err := json.Unmarshal(data, &apiErr); err != nil {
		return fmt.Errorf("coordinator returned %d: %s", resp.StatusCode, string(data))
	}
	if sentinel := sentinelFor(apiErr.Code); sentinel != nil {
		return fmt.Errorf("%s: %w", apiErr.Error, sentinel)
	}
	return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Code)
}

func sentinelFor(code string) error {
	switch code {
	case CodeAlreadyClaimed:
		return taskboard.ErrAlreadyClaimed
	case CodeLeaseMismatch:
		return taskboard.ErrLeaseMismatch
	case CodeNotFound:
		return taskboard.ErrNotFound
	case CodeRoleUnresolved:
		return scheduler.ErrRoleUnresolved
	default:
		return nil
	}
}
