package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openbuilders/batch-submitter/internal/types"
)

const DefaultTimeout = 15 * time.Second

// Client is the remote execution service: it accepts signed batches and
// reports their status.
type Client interface {
	Submit(ctx context.Context, batch *types.BatchSubmission) (string, error)
	Get(ctx context.Context, batchID, commitment string) (*types.BatchResult, error)
}

// APIError is a non-2xx answer of the transactions API.
type APIError struct {
	Procedure  string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: HTTP %d %s: %s", e.Procedure, e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("%s: HTTP %d: %s", e.Procedure, e.StatusCode, e.Message)
}

type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPClient talks to the transactions API over its RPC-over-HTTP protocol:
// every procedure is a POST to <base>/rpc/<procedure> and bodies are
// wrapped in a {"json": ...} envelope.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

func NewHTTPClient(config *HTTPConfig) *HTTPClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(config.BaseURL), "/"),
		client:  &http.Client{Timeout: timeout},
		log:     slog.With("component", "submission"),
	}
}

type envelope struct {
	JSON json.RawMessage `json:"json"`
}

type submitResponse struct {
	BatchID string `json:"batchId"`
}

type getRequest struct {
	ID         string `json:"id"`
	Commitment string `json:"commitment"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *HTTPClient) Submit(ctx context.Context, batch *types.BatchSubmission) (string, error) {
	var resp submitResponse
	if err := c.call(ctx, "transactions/submit", batch, &resp); err != nil {
		return "", err
	}

	if resp.BatchID == "" {
		return "", fmt.Errorf("transactions/submit: empty batch id")
	}

	c.log.Debug(
		"Submitted batch",
		"batch_id", resp.BatchID,
		"tag", batch.Tag,
		"transactions", len(batch.Transactions),
	)

	return resp.BatchID, nil
}

func (c *HTTPClient) Get(ctx context.Context, batchID, commitment string) (*types.BatchResult, error) {
	var resp types.BatchResult
	err := c.call(ctx, "transactions/get", getRequest{ID: batchID, Commitment: commitment}, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *HTTPClient) call(ctx context.Context, procedure string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", procedure, err)
	}

	body, err := json.Marshal(envelope{JSON: payload})
	if err != nil {
		return fmt.Errorf("%s: marshal envelope: %w", procedure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/rpc/"+procedure, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", procedure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", procedure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", procedure, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Procedure:  procedure,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}

		var eb errorBody
		if decodeErr == nil && json.Unmarshal(env.JSON, &eb) == nil && eb.Message != "" {
			apiErr.Code = eb.Code
			apiErr.Message = eb.Message
		}

		return apiErr
	}

	if decodeErr != nil {
		return fmt.Errorf("%s: decode response: %w", procedure, decodeErr)
	}

	if err := json.Unmarshal(env.JSON, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", procedure, err)
	}

	return nil
}
