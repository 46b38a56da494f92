package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/openbuilders/batch-submitter/internal/types"
)

type Config struct {
	Interval   time.Duration
	BatchSize  int64
	DBTimeout  time.Duration
	Commitment string
	// GiveUpAfter marks a batch expired once it stayed unknown this long.
	GiveUpAfter time.Duration
}

type Repository interface {
	UnknownBatches(ctx context.Context, limit int64) ([]types.Batch, error)
	UpdateBatchStatus(ctx context.Context, batchID string, status types.BatchStatus,
		signatures []string) error
	Touch(ctx context.Context, batchID string) error
}

type StatusSource interface {
	Get(ctx context.Context, batchID string, commitment string) (*types.BatchResult, error)
}

// Reconciler revisits batches whose polling timed out. Such a batch may
// still land, so its final status is looked up again until it is known.
type Reconciler struct {
	config *Config
	repo   Repository
	source StatusSource
	log    *slog.Logger
}

func New(config *Config, repo Repository, source StatusSource) *Reconciler {
	return &Reconciler{
		config: config,
		repo:   repo,
		source: source,
		log:    slog.With("component", "reconciler"),
	}
}

func (r *Reconciler) Run(ctx context.Context) error {
	r.log.Info("Starting reconciler", "interval", r.config.Interval)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Stopping reconciler")
			return nil
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

// reconcile checks one page of unknown batches and returns how many got a
// terminal status.
func (r *Reconciler) reconcile(ctx context.Context) int {
	dbCtx, cancel := context.WithTimeout(ctx, r.config.DBTimeout)
	defer cancel()

	batches, err := r.repo.UnknownBatches(dbCtx, r.config.BatchSize)
	if err != nil {
		r.log.Error("Couldn't load unknown batches", "error", err)
		return 0
	}

	resolved := 0
	for _, batch := range batches {
		if ctx.Err() != nil {
			break
		}

		if r.check(ctx, batch) {
			resolved++
		}
	}

	return resolved
}

func (r *Reconciler) check(ctx context.Context, batch types.Batch) bool {
	log := r.log.With("batch_id", batch.ID, "tag", batch.Tag)

	result, err := r.source.Get(ctx, batch.ID, r.config.Commitment)
	if err != nil {
		log.Warn("Couldn't query batch status", "error", err)
		r.touch(ctx, batch.ID)
		return false
	}

	status := result.Status
	signatures := result.Signatures()

	if !status.IsTerminal() {
		if r.config.GiveUpAfter <= 0 || time.Since(batch.CreatedAt) < r.config.GiveUpAfter {
			r.touch(ctx, batch.ID)
			return false
		}

		log.Warn("Batch stayed unresolved, giving up", "age", time.Since(batch.CreatedAt))
		status = types.StatusExpired
	}

	dbCtx, cancel := context.WithTimeout(ctx, r.config.DBTimeout)
	defer cancel()

	if err := r.repo.UpdateBatchStatus(dbCtx, batch.ID, status, signatures); err != nil {
		log.Error("Couldn't update batch status", "error", err)
		return false
	}

	log.Info("Reconciled batch", "status", status, "signatures", len(signatures))

	return true
}

func (r *Reconciler) touch(ctx context.Context, batchID string) {
	dbCtx, cancel := context.WithTimeout(ctx, r.config.DBTimeout)
	defer cancel()

	if err := r.repo.Touch(dbCtx, batchID); err != nil {
		r.log.Warn("Couldn't touch batch", "batch_id", batchID, "error", err)
	}
}
