package sender

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openbuilders/batch-submitter/internal/coordinator"
	"github.com/openbuilders/batch-submitter/internal/lifecycle"
	"github.com/openbuilders/batch-submitter/internal/types"
)

type jobKey struct{}

// WithJob tags ctx with the job whose batches are submitted under it.
func WithJob(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, jobKey{}, id)
}

func JobFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(jobKey{}).(uuid.UUID)
	return id
}

type BatchStore interface {
	UpsertBatch(ctx context.Context, batch *types.Batch) error
}

// Recorder is a lifecycle.Observer that keeps a row per submitted batch, so
// batches left in an unknown state can be reconciled later.
type Recorder struct {
	store   BatchStore
	timeout time.Duration
	log     *slog.Logger
}

func NewRecorder(store BatchStore, timeout time.Duration) *Recorder {
	return &Recorder{
		store:   store,
		timeout: timeout,
		log:     slog.With("component", "recorder"),
	}
}

func (r *Recorder) Submitted(ctx context.Context, e lifecycle.Event) {
	r.save(ctx, e, types.StatusPending)
}

func (r *Recorder) Resolved(ctx context.Context, e lifecycle.Event) {
	if e.BatchID == "" {
		return
	}

	r.save(ctx, e, e.Status)
}

func (r *Recorder) save(ctx context.Context, e lifecycle.Event, status types.BatchStatus) {
	batch := &types.Batch{
		ID:         e.BatchID,
		JobID:      JobFromContext(ctx),
		Tag:        e.Tag,
		ChunkIndex: coordinator.ChunkIndex(ctx),
		Attempt:    e.Attempt,
		Status:     status,
		Signatures: e.Signatures,
	}

	if e.Err != nil {
		batch.Error = e.Err.Error()
	}

	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.store.UpsertBatch(dbCtx, batch); err != nil {
		r.log.Error("Couldn't record batch", "batch_id", e.BatchID, "status", status, "error", err)
	}
}
