package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/openbuilders/batch-submitter/internal/queue"
	"github.com/openbuilders/batch-submitter/internal/repository/postgres"
	"github.com/openbuilders/batch-submitter/internal/types"
)

type Config struct {
	// Prefetch bounds the unacked deliveries the broker pushes to us.
	Prefetch  int
	DBTimeout time.Duration
	// Buffer is the capacity of the Jobs channel.
	Buffer int
}

type Repository interface {
	SaveJob(ctx context.Context, job *types.Job) error
	UnfinishedJobs(ctx context.Context) ([]types.Job, error)
}

type TagLocker interface {
	AcquireTag(ctx context.Context, tag string) (bool, error)
	ReleaseTag(ctx context.Context, tag string) error
}

// Intake turns deliveries of the jobs queue into validated, persisted jobs
// on the Jobs channel. A tag is processed by one job at a time.
type Intake struct {
	Jobs   chan types.Job
	config *Config
	repo   Repository
	locks  TagLocker
	log    *slog.Logger
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a job before it is accepted.
func Validate(job *types.Job) error {
	if err := validate.Struct(job); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	return nil
}

func New(config *Config, repo Repository, locks TagLocker) *Intake {
	return &Intake{
		Jobs:   make(chan types.Job, config.Buffer),
		config: config,
		repo:   repo,
		locks:  locks,
		log:    slog.With("component", "intake"),
	}
}

// Resume re-queues jobs accepted by a previous run that never reached an
// outcome.
func (i *Intake) Resume(ctx context.Context) error {
	dbCtx, cancel := context.WithTimeout(ctx, i.config.DBTimeout)
	defer cancel()

	jobs, err := i.repo.UnfinishedJobs(dbCtx)
	if err != nil {
		return fmt.Errorf("load unfinished jobs: %w", err)
	}

	for _, job := range jobs {
		i.log.Info("Resuming job", "job_id", job.ID, "tag", job.Tag)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case i.Jobs <- job:
		}
	}

	return nil
}

// Consume reads the jobs queue until ctx is done or the channel breaks. It
// is a queue.WorkerFunc.
func (i *Intake) Consume(ctx context.Context, conn *amqp.Connection) error {
	i.log.Info("Starting intake")

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(i.config.Prefetch, 0, false); err != nil {
		return err
	}

	messages, err := ch.Consume(
		string(queue.QueueJobs), // queue
		"intake",                // consumer
		false,                   // autoAck
		false,                   // exclusive
		false,                   // noLocal
		false,                   // no wait
		nil,                     // args
	)
	if err != nil {
		return err
	}

	return i.run(ctx, messages)
}

func (i *Intake) run(ctx context.Context, messages <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			i.log.Info("Stopping intake...")
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("queue is closed")
			}

			job, err := i.handleMessage(ctx, msg)
			if err != nil {
				// unacked deliveries would stay in limbo until the
				// connection is restarted, so give up on this channel
				return err
			}

			if job == nil {
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case i.Jobs <- *job:
			}
		}
	}
}

// handleMessage validates, locks and persists a job. A nil job without an
// error means the delivery was settled and dropped.
func (i *Intake) handleMessage(ctx context.Context, message amqp.Delivery) (
	*types.Job, error) {

	var job types.Job
	if err := json.Unmarshal(message.Body, &job); err != nil {
		i.log.Error("Job unmarshalling error", "body", string(message.Body), "error", err)
		return nil, message.Reject(false)
	}

	if err := Validate(&job); err != nil {
		i.log.Error("Rejecting invalid job", "tag", job.Tag, "error", err)
		return nil, message.Reject(false)
	}

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	dbCtx, cancel := context.WithTimeout(ctx, i.config.DBTimeout)
	defer cancel()

	acquired, err := i.locks.AcquireTag(dbCtx, job.Tag)
	if err != nil {
		_ = message.Nack(false, true)
		return nil, err
	}

	if !acquired {
		i.log.Info("Tag is already in flight, dropping job", "job_id", job.ID, "tag", job.Tag)
		return nil, message.Ack(false)
	}

	err = i.repo.SaveJob(dbCtx, &job)
	if err != nil {
		if rerr := i.locks.ReleaseTag(dbCtx, job.Tag); rerr != nil {
			i.log.Warn("Couldn't release tag", "tag", job.Tag, "error", rerr)
		}
	}

	if errors.Is(err, postgres.ErrDuplicateKeyValue) {
		i.log.Info("Duplicate job, skipping", "job_id", job.ID)
		return nil, message.Ack(false)
	}

	if err != nil {
		_ = message.Nack(false, true)
		return nil, err
	}

	if err := message.Ack(false); err != nil {
		i.log.Error("Message ack error", "job_id", job.ID, "error", err)
		return nil, err
	}

	i.log.Debug("Accepted job", "job_id", job.ID, "tag", job.Tag, "groups", len(job.Instructions))

	return &job, nil
}
