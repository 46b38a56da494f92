package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/openbuilders/batch-submitter/internal/approval"
	"github.com/openbuilders/batch-submitter/internal/builder"
	"github.com/openbuilders/batch-submitter/internal/poller"
	"github.com/openbuilders/batch-submitter/internal/types"
)

type fakeCodec struct {
	mu        sync.Mutex
	compiles  int
	cosigned  []string
	cosignErr error
	err       error
}

func (c *fakeCodec) Compile(_ context.Context, drafts []*types.TransactionDraft) ([]*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.compiles++
	if c.err != nil {
		return nil, c.err
	}

	txs := make([]*types.Transaction, len(drafts))
	for i, d := range drafts {
		d.RecentBlockhash = fmt.Sprintf("bh-%d", c.compiles)

		var payload bytes.Buffer
		for _, op := range d.Operations {
			payload.Write(op.Payload)
		}
		payload.WriteString(d.RecentBlockhash)

		txs[i] = &types.Transaction{Draft: d, Payload: payload.Bytes()}
	}

	return txs, nil
}

func (c *fakeCodec) Cosign(tx *types.Transaction, kp types.Keypair) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cosignErr != nil {
		return c.cosignErr
	}

	c.cosigned = append(c.cosigned, kp.PublicKey())
	tx.MarkSigned(kp.PublicKey())

	return nil
}

func (c *fakeCodec) Compiles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compiles
}

type fakeSigner struct {
	mu    sync.Mutex
	calls int
	err   error
	drop  bool
}

func (s *fakeSigner) PublicKey() string { return "wallet" }

func (s *fakeSigner) SignAll(_ context.Context, txs []*types.Transaction) ([]*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.drop {
		return txs[:len(txs)-1], nil
	}

	for _, tx := range txs {
		tx.MarkSigned(s.PublicKey())
	}

	return txs, nil
}

func (s *fakeSigner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeClient struct {
	mu          sync.Mutex
	submissions []*types.BatchSubmission
	gets        int
	submitErr   error
	// statuses are returned by consecutive Get calls, the last one repeats.
	statuses []types.BatchStatus
	// statusOf overrides statuses when set.
	statusOf   func(batch *types.BatchSubmission) types.BatchStatus
	signatures []string
}

func (c *fakeClient) Submit(_ context.Context, batch *types.BatchSubmission) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.submitErr != nil {
		return "", c.submitErr
	}

	c.submissions = append(c.submissions, batch)

	return fmt.Sprintf("batch-%d", len(c.submissions)), nil
}

func (c *fakeClient) Get(_ context.Context, batchID, _ string) (*types.BatchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gets++

	status := types.StatusConfirmed
	switch {
	case c.statusOf != nil:
		var n int
		fmt.Sscanf(batchID, "batch-%d", &n)
		status = c.statusOf(c.submissions[n-1])
	case len(c.statuses) > 0:
		status = c.statuses[min(c.gets, len(c.statuses))-1]
	}

	result := &types.BatchResult{Status: status}
	for _, s := range c.signatures {
		result.Transactions = append(result.Transactions, types.TransactionSignature{Signature: s})
	}

	return result, nil
}

func (c *fakeClient) Submissions() []*types.BatchSubmission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.BatchSubmission(nil), c.submissions...)
}

func (c *fakeClient) Gets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets
}

type countingGate struct {
	mu       sync.Mutex
	decision bool
	requests []approval.Request
}

func (g *countingGate) Show(_ context.Context, req approval.Request) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests = append(g.requests, req)

	return g.decision, nil
}

func (g *countingGate) Shown() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type recordingObserver struct {
	mu        sync.Mutex
	submitted []Event
	resolved  []Event
}

func (o *recordingObserver) Submitted(_ context.Context, e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submitted = append(o.submitted, e)
}

func (o *recordingObserver) Resolved(_ context.Context, e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resolved = append(o.resolved, e)
}

type fakeInvalidator struct {
	tags chan string
	err  error
}

func (i *fakeInvalidator) Invalidate(_ context.Context, tag string) error {
	i.tags <- tag
	return i.err
}

type keypair string

func (k keypair) PublicKey() string               { return string(k) }
func (k keypair) Sign(msg []byte) ([]byte, error) { return append([]byte(k), msg...), nil }

type harness struct {
	codec    *fakeCodec
	signer   *fakeSigner
	client   *fakeClient
	gate     *countingGate
	observer *recordingObserver
	manager  *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		codec:    &fakeCodec{},
		signer:   &fakeSigner{},
		client:   &fakeClient{},
		gate:     &countingGate{decision: true},
		observer: &recordingObserver{},
	}

	h.manager = New(&Config{
		Origin:       "https://ops.example",
		PollInterval: time.Millisecond,
		MaxPollTime:  200 * time.Millisecond,
	}, Dependencies{
		Builder:  builder.New(builder.StaticFee(7)),
		Codec:    h.codec,
		Gate:     h.gate,
		Signer:   h.signer,
		Client:   h.client,
		Observer: h.observer,
	})

	return h
}

func ops(n int) []types.Operation {
	out := make([]types.Operation, n)
	for i := range out {
		out[i] = types.Operation{Payload: []byte(fmt.Sprintf("op%d;", i))}
	}

	return out
}

func request(n, perTx int) *Request {
	return &Request{
		Instructions: types.Flat(ops(n)...),
		Build:        builder.Options{MaxInstructionsPerTx: perTx},
		Tag:          "claim-abc",
		Header:       "Claim rewards",
		Message:      "claim all",
		Metadata:     &types.Metadata{Type: "claim", Description: "Claim rewards"},
	}
}

func newTestPoller(h *harness, interval, maxPollTime time.Duration) *poller.Poller {
	return poller.New(&poller.Config{Interval: interval, MaxPollTime: maxPollTime}, h.client)
}
