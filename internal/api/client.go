package api

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

	"github.com/google/uuid"

	"github.com/openbuilders/batch-submitter/internal/approval"
	"github.com/openbuilders/batch-submitter/internal/types"
)

// PendingApproval is the client side view of approval.PendingRequest.
type PendingApproval struct {
	ID        uuid.UUID     `json:"id"`
	Kind      approval.Kind `json:"kind"`
	Summary   string        `json:"summary"`
	CreatedAt time.Time     `json:"created_at"`
}

// Client talks to a running server.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) EnqueueJob(ctx context.Context, job *types.Job) (uuid.UUID, error) {
	var accepted JobAccepted
	if err := c.do(ctx, http.MethodPost, "/job", job, &accepted); err != nil {
		return uuid.Nil, err
	}

	return accepted.JobID, nil
}

func (c *Client) Batch(ctx context.Context, batchID string) (*types.Batch, error) {
	var batch types.Batch
	if err := c.do(ctx, http.MethodGet, "/batch?id="+url.QueryEscape(batchID), nil, &batch); err != nil {
		return nil, err
	}

	return &batch, nil
}

func (c *Client) PendingApprovals(ctx context.Context) ([]PendingApproval, error) {
	var pending []PendingApproval
	if err := c.do(ctx, http.MethodGet, "/approvals", nil, &pending); err != nil {
		return nil, err
	}

	return pending, nil
}

func (c *Client) Resolve(ctx context.Context, id uuid.UUID, approved bool) error {
	return c.do(ctx, http.MethodPost, "/approval", Decision{ID: id, Approved: approved}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e Response
		if json.Unmarshal(raw, &e) == nil && e.ErrorCode != "" {
			return &APIError{Code: APIErrorCode(e.ErrorCode), Description: e.ErrorDescription}
		}

		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}

	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return json.Unmarshal(envelope.Data, out)
}
