package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/openbuilders/batch-submitter/internal/approval"
	"github.com/openbuilders/batch-submitter/internal/health"
	"github.com/openbuilders/batch-submitter/internal/metrics"
	"github.com/openbuilders/batch-submitter/internal/queue"
	"github.com/openbuilders/batch-submitter/internal/repository/postgres"
	"github.com/openbuilders/batch-submitter/internal/types"
)

type published struct {
	queue   queue.QueueName
	message []byte
}

type fakePublisher struct {
	messages []published
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, q queue.QueueName, message []byte) error {
	if p.err != nil {
		return p.err
	}

	p.messages = append(p.messages, published{queue: q, message: message})
	return nil
}

type fakeTags map[string]bool

func (t fakeTags) TagLocked(_ context.Context, tag string) (bool, error) {
	return t[tag], nil
}

type fakeBatches map[string]*types.Batch

func (b fakeBatches) GetBatch(_ context.Context, id string) (*types.Batch, error) {
	batch, ok := b[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}

	return batch, nil
}

type fakeHealth struct {
	healthy bool
}

func (h fakeHealth) GetHealthStatus() health.HealthStatus {
	return health.HealthStatus{Healthy: h.healthy, Checks: health.HealthChecks{}}
}

type testServer struct {
	*Server
	publisher *fakePublisher
	metrics   *metrics.Metrics
}

func newTestServer(t *testing.T, approvals Approvals) *testServer {
	t.Helper()

	publisher := &fakePublisher{}
	m := metrics.New(prometheus.NewRegistry())

	s := NewServer(&Config{DBTimeout: time.Second}, Dependencies{
		Publisher: publisher,
		Tags:      fakeTags{"busy": true},
		Batches: fakeBatches{
			"b-1": {ID: "b-1", Tag: "airdrop", Status: types.StatusConfirmed},
		},
		Approvals: approvals,
		Health:    fakeHealth{healthy: true},
		Metrics:   m,
	})

	return &testServer{Server: s, publisher: publisher, metrics: m}
}

func do(t *testing.T, h http.Handler, method, target, body string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}

	return rec.Code, resp
}

const validJob = `{
	"tag": "%s",
	"header": "Airdrop",
	"instructions": [[{"payload": "AQID"}], [{"payload": "BAUG"}]]
}`

func job(tag string) string {
	return strings.Replace(validJob, "%s", tag, 1)
}

func TestJobHandler(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	h := s.Handler()

	code, resp := do(t, h, http.MethodPost, "/job", job("airdrop"))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, resp["ok"])

	require.Len(t, s.publisher.messages, 1)
	require.Equal(t, queue.QueueJobs, s.publisher.messages[0].queue)

	var queued types.Job
	require.NoError(t, json.Unmarshal(s.publisher.messages[0].message, &queued))
	require.NotEqual(t, uuid.Nil, queued.ID)
	require.Equal(t, "airdrop", queued.Tag)
	require.Len(t, queued.Instructions, 2)

	data := resp["data"].(map[string]any)
	require.Equal(t, queued.ID.String(), data["job_id"])

	require.Equal(t, 1.0, testutil.ToFloat64(
		s.metrics.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/job", "200")))
}

func TestJobHandler_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		body   string
		status int
		code   string
	}{
		{
			name:   "malformed json",
			method: http.MethodPost,
			body:   `{"tag":`,
			status: http.StatusBadRequest,
			code:   string(ErrorCodeBadRequest),
		},
		{
			name:   "missing instructions",
			method: http.MethodPost,
			body:   `{"tag": "a", "header": "h", "instructions": []}`,
			status: http.StatusBadRequest,
			code:   string(ErrorCodeInvalidJob),
		},
		{
			name:   "tag in flight",
			method: http.MethodPost,
			body:   job("busy"),
			status: http.StatusConflict,
			code:   string(ErrorCodeTagInFlight),
		},
		{
			name:   "wrong method",
			method: http.MethodGet,
			status: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer(t, nil)
			code, resp := do(t, s.Handler(), tt.method, "/job", tt.body)

			require.Equal(t, tt.status, code)
			if tt.code != "" {
				require.Equal(t, false, resp["ok"])
				require.Equal(t, tt.code, resp["errorCode"])
			}
			require.Empty(t, s.publisher.messages)
		})
	}
}

func TestJobHandler_PublishFailure(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	s.publisher.err = errors.New("channel closed")

	code, resp := do(t, s.Handler(), http.MethodPost, "/job", job("airdrop"))
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, string(ErrorCodeEnqueueing), resp["errorCode"])
}

func TestBatchHandler(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, nil).Handler()

	code, resp := do(t, h, http.MethodGet, "/batch?id=b-1", "")
	require.Equal(t, http.StatusOK, code)
	data := resp["data"].(map[string]any)
	require.Equal(t, "b-1", data["batch_id"])
	require.Equal(t, string(types.StatusConfirmed), data["status"])

	code, resp = do(t, h, http.MethodGet, "/batch?id=nope", "")
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, string(ErrorCodeNotFound), resp["errorCode"])

	code, _ = do(t, h, http.MethodGet, "/batch", "")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestApprovalHandlers(t *testing.T) {
	t.Parallel()

	broker := approval.NewBroker(&approval.BrokerConfig{})
	h := newTestServer(t, broker).Handler()

	decided := make(chan bool, 1)
	go func() {
		ok, _ := broker.Show(context.Background(), approval.SignAndSend{})
		decided <- ok
	}()

	var pending []approval.PendingRequest
	require.Eventually(t, func() bool {
		pending = broker.Pending()
		return len(pending) == 1
	}, time.Second, time.Millisecond)

	code, resp := do(t, h, http.MethodGet, "/approvals", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp["data"], 1)

	body := `{"id": "` + pending[0].ID.String() + `", "approved": true}`
	code, _ = do(t, h, http.MethodPost, "/approval", body)
	require.Equal(t, http.StatusOK, code)
	require.True(t, <-decided)

	code, resp = do(t, h, http.MethodPost, "/approval", body)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, string(ErrorCodeUnknownRequest), resp["errorCode"])
}

func TestApprovalHandlers_Policy(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, nil).Handler()

	code, resp := do(t, h, http.MethodGet, "/approvals", "")
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp["data"])

	code, _ = do(t, h, http.MethodPost, "/approval", `{"id": "`+uuid.NewString()+`"}`)
	require.Equal(t, http.StatusNotFound, code)
}

func TestProbes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)

	code, _ := do(t, s.probesHandler(), http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, code)

	s.deps.Health = fakeHealth{healthy: false}

	code, resp := do(t, s.probesHandler(), http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, string(ErrorCodeNotReady), resp["errorCode"])

	code, resp = do(t, s.probesHandler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, resp["data"].(map[string]any)["healthy"])
}
