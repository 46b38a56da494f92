package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openbuilders/batch-submitter/internal/queue"
	"github.com/openbuilders/batch-submitter/internal/types"
)

type Config struct {
	BatchSize    int64
	PollInterval time.Duration
	DBTimeout    time.Duration
}

const (
	PatternJobResult = "batch-job-result"
)

type JobResultNotification struct {
	Pattern string          `json:"pattern"`
	Data    types.JobResult `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, queueName queue.QueueName, message []byte) error
}

type Repository interface {
	PendingResults(ctx context.Context, limit int64) ([]types.JobResult, error)
	MarkNotified(ctx context.Context, jobIDs []uuid.UUID) error
}

// Notifier publishes job outcomes to the results queue. An outcome is
// marked as notified only after it was published, so delivery is at least
// once.
type Notifier struct {
	config    *Config
	publisher Publisher
	repo      Repository
	log       *slog.Logger
}

func New(config *Config, publisher Publisher, repo Repository) *Notifier {
	return &Notifier{
		config:    config,
		publisher: publisher,
		repo:      repo,
		log:       slog.With("component", "notifier"),
	}
}

func (n *Notifier) Start(ctx context.Context) error {
	n.log.Info("Starting notifier...")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			n.log.Info("Stopping notifier.")
			return nil

		case <-timer.C:
			n.notify(ctx)
			timer.Reset(n.config.PollInterval)
		}
	}
}

// notify publishes one page of pending results and returns how many were
// marked as notified.
func (n *Notifier) notify(ctx context.Context) int {
	dbCtx, cancel := context.WithTimeout(ctx, n.config.DBTimeout)
	defer cancel()

	results, err := n.repo.PendingResults(dbCtx, n.config.BatchSize)
	if err != nil {
		n.log.Error("Couldn't get job results", "error", err)
		return 0
	}

	notified := make([]uuid.UUID, 0, len(results))

	for _, result := range results {
		payload, err := json.Marshal(JobResultNotification{
			Pattern: PatternJobResult,
			Data:    result,
		})
		if err != nil {
			n.log.Error("Error marshaling JSON", "job_id", result.JobID, "error", err)
			continue
		}

		n.log.Debug("Sending notification", "job_id", result.JobID, "status", result.Status)

		if err := n.publisher.Publish(ctx, queue.QueueResults, payload); err != nil {
			n.log.Error("Couldn't enqueue message", "job_id", result.JobID, "error", err)
			// the rest will be retried on the next tick
			break
		}

		notified = append(notified, result.JobID)
	}

	if len(notified) == 0 {
		return 0
	}

	dbCtx, cancel = context.WithTimeout(ctx, n.config.DBTimeout)
	defer cancel()

	if err := n.repo.MarkNotified(dbCtx, notified); err != nil {
		n.log.Error("Couldn't persist notification results", "jobs", notified, "error", err)
		return 0
	}

	n.log.Debug("Processed a page of job results", "count", len(notified))

	return len(notified)
}
