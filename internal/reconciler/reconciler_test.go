package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openbuilders/batch-submitter/internal/types"
)

type update struct {
	status     types.BatchStatus
	signatures []string
}

type fakeRepo struct {
	batches []types.Batch
	updates map[string]update
	touched []string
}

func (r *fakeRepo) UnknownBatches(context.Context, int64) ([]types.Batch, error) {
	return r.batches, nil
}

func (r *fakeRepo) UpdateBatchStatus(_ context.Context, id string, status types.BatchStatus,
	signatures []string) error {

	r.updates[id] = update{status: status, signatures: signatures}
	return nil
}

func (r *fakeRepo) Touch(_ context.Context, id string) error {
	r.touched = append(r.touched, id)
	return nil
}

type fakeSource map[string]*types.BatchResult

func (s fakeSource) Get(_ context.Context, id string, commitment string) (*types.BatchResult, error) {
	if commitment != "confirmed" {
		return nil, errors.New("unexpected commitment")
	}

	res, ok := s[id]
	if !ok {
		return nil, errors.New("unavailable")
	}

	return res, nil
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	now := time.Now()
	repo := &fakeRepo{
		updates: map[string]update{},
		batches: []types.Batch{
			{ID: "landed", CreatedAt: now},
			{ID: "still-pending", CreatedAt: now},
			{ID: "stale", CreatedAt: now.Add(-2 * time.Hour)},
			{ID: "unreachable", CreatedAt: now},
		},
	}

	source := fakeSource{
		"landed": {Status: types.StatusConfirmed, Transactions: []types.TransactionSignature{
			{Signature: "s1"}, {Signature: "s2"},
		}},
		"still-pending": {Status: types.StatusPending},
		"stale":         {Status: types.StatusPending},
	}

	r := New(&Config{
		BatchSize:   10,
		DBTimeout:   time.Second,
		Commitment:  "confirmed",
		GiveUpAfter: time.Hour,
	}, repo, source)

	require.Equal(t, 2, r.reconcile(context.Background()))
	require.Equal(t, map[string]update{
		"landed": {status: types.StatusConfirmed, signatures: []string{"s1", "s2"}},
		"stale":  {status: types.StatusExpired, signatures: []string{}},
	}, repo.updates)
	require.Equal(t, []string{"still-pending", "unreachable"}, repo.touched)
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	r := New(&Config{Interval: time.Millisecond, DBTimeout: time.Second},
		&fakeRepo{updates: map[string]update{}}, fakeSource{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.NoError(t, r.Run(ctx))
}
