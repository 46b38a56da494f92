package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	svcerrors "github.com/openbuilders/batch-submitter/internal/errors"
	"github.com/openbuilders/batch-submitter/internal/types"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxPollTime = 60 * time.Second
	DefaultCommitment  = "confirmed"
)

type Config struct {
	Interval    time.Duration
	MaxPollTime time.Duration
	Commitment  string
}

// StatusSource answers status queries for a submitted batch.
type StatusSource interface {
	Get(ctx context.Context, batchID, commitment string) (*types.BatchResult, error)
}

type Poller struct {
	config *Config
	source StatusSource
	log    *slog.Logger
}

func New(config *Config, source StatusSource) *Poller {
	c := *config
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxPollTime <= 0 {
		c.MaxPollTime = DefaultMaxPollTime
	}
	if c.Commitment == "" {
		c.Commitment = DefaultCommitment
	}

	return &Poller{
		config: &c,
		source: source,
		log:    slog.With("component", "poller"),
	}
}

// PollForCompletion queries the batch status at a fixed interval until the
// backend reports a terminal status. When MaxPollTime elapses first, a
// polling timeout error is returned and the batch may still land.
func (p *Poller) PollForCompletion(ctx context.Context, batchID string) (
	*types.BatchResult, error) {

	start := time.Now()
	polls := 0

	for time.Since(start) < p.config.MaxPollTime {
		polls++

		result, err := p.source.Get(ctx, batchID, p.config.Commitment)
		if err != nil {
			return nil, fmt.Errorf("query status of batch %s: %w", batchID, err)
		}

		if result.Status.IsTerminal() {
			p.log.Debug(
				"Batch reached terminal status",
				"batch_id", batchID,
				"status", result.Status,
				"polls", polls,
			)

			return result, nil
		}

		timer := time.NewTimer(p.config.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	p.log.Warn(
		"Gave up polling",
		"batch_id", batchID,
		"polls", polls,
		"max_poll_time", p.config.MaxPollTime,
	)

	return nil, svcerrors.New(svcerrors.CodePollingTimeout,
		fmt.Errorf("no terminal status after %d polls", polls),
	).WithBatch("", batchID)
}
