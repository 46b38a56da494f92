package sender

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openbuilders/batch-submitter/internal/builder"
	"github.com/openbuilders/batch-submitter/internal/coordinator"
	svcerrors "github.com/openbuilders/batch-submitter/internal/errors"
	"github.com/openbuilders/batch-submitter/internal/lifecycle"
	"github.com/openbuilders/batch-submitter/internal/types"
)

type Config struct {
	NumWorkers int
	DBTimeout  time.Duration
	// DefaultChunkSize applies to jobs that don't set one. Zero submits the
	// whole job as one batch.
	DefaultChunkSize int
	// Build is the base of every job's build options. Jobs may override the
	// lookup tables.
	Build builder.Options
}

type Coordinator interface {
	SubmitChunked(ctx context.Context, req *coordinator.Request, chunkSize int) (
		*coordinator.Result, error)
}

type Repository interface {
	SaveJobResult(ctx context.Context, result types.JobResult) error
}

type TagReleaser interface {
	ReleaseTag(ctx context.Context, tag string) error
}

// Tracker measures jobs. *metrics.Metrics is one.
type Tracker interface {
	JobStarted() func()
}

// Sender runs jobs through the coordinator on a fixed pool of workers and
// records their outcomes for the notifier.
type Sender struct {
	config  *Config
	jobs    <-chan types.Job
	coord   Coordinator
	repo    Repository
	locks   TagReleaser
	tracker Tracker
	log     *slog.Logger
}

func New(config *Config, jobs <-chan types.Job, coord Coordinator, repo Repository,
	locks TagReleaser, tracker Tracker) *Sender {

	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}

	return &Sender{
		config:  config,
		jobs:    jobs,
		coord:   coord,
		repo:    repo,
		locks:   locks,
		tracker: tracker,
		log:     slog.With("component", "sender"),
	}
}

func (s *Sender) Run(ctx context.Context) error {
	s.log.Info("Starting sender", "workers", s.config.NumWorkers)

	var g errgroup.Group
	for w := range s.config.NumWorkers {
		g.Go(func() error {
			return s.work(ctx, w)
		})
	}

	err := g.Wait()
	s.log.Info("Sender stopped")

	return err
}

func (s *Sender) work(ctx context.Context, worker int) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-s.jobs:
			if !ok {
				s.log.Debug("Jobs channel is closed", "worker", worker)
				return nil
			}

			s.handle(ctx, job)
		}
	}
}

// handle runs one job to its outcome. The job's tag is released afterwards
// even when the outcome could not be stored.
func (s *Sender) handle(ctx context.Context, job types.Job) {
	log := s.log.With("job_id", job.ID, "tag", job.Tag)
	log.Info("Processing job", "groups", len(job.Instructions), "sequential", job.Sequential)

	if s.tracker != nil {
		done := s.tracker.JobStarted()
		defer done()
	}

	chunkSize := job.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.config.DefaultChunkSize
	}

	result, err := s.coord.SubmitChunked(WithJob(ctx, job.ID), s.request(job), chunkSize)
	outcome := Outcome(job, result, err)

	if err != nil && !svcerrors.IsQuiet(err) {
		log.Error("Job failed", "code", outcome.ErrorCode, "error", err)
	} else {
		log.Info("Job finished", "status", outcome.Status, "batch_id", outcome.BatchID)
	}

	// the outcome must be stored even when shutdown interrupted the job
	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.DBTimeout)
	defer cancel()

	if err := s.repo.SaveJobResult(dbCtx, outcome); err != nil {
		log.Error("Couldn't persist job result", "error", err)
	}

	if err := s.locks.ReleaseTag(dbCtx, job.Tag); err != nil {
		log.Warn("Couldn't release tag", "error", err)
	}
}

func (s *Sender) request(job types.Job) *coordinator.Request {
	return NewRequest(job, s.config.Build)
}

// NewRequest turns a job into a coordinator request on top of the base
// build options.
func NewRequest(job types.Job, base builder.Options) *coordinator.Request {
	build := base
	build.LookupTables = slices.Clone(build.LookupTables)
	if len(job.LookupTables) > 0 {
		build.LookupTables = slices.Clone(job.LookupTables)
	}

	req := &coordinator.Request{
		Request: lifecycle.Request{
			Instructions: types.Grouped(job.Instructions...),
			Build:        build,
			Tag:          job.Tag,
			Header:       job.Header,
			Message:      job.Message,
			Metadata:     &types.Metadata{Type: job.Tag, Description: job.Message},
		},
		Sequential: job.Sequential,
	}

	if job.MaxRetries != nil {
		req.Options = append(req.Options, lifecycle.WithMaxRetries(*job.MaxRetries))
	}

	return req
}

// Outcome maps the coordinator's answer to the result published for a job.
func Outcome(job types.Job, result *coordinator.Result, err error) types.JobResult {
	out := types.JobResult{JobID: job.ID, Tag: job.Tag}

	if result != nil {
		out.BatchID = result.BatchID
		out.Signatures = result.Signatures()
	}

	if err == nil {
		out.Status = types.StatusConfirmed
		return out
	}

	code, _ := svcerrors.CodeOf(err)
	out.ErrorCode = string(code)
	out.Error = err.Error()

	var se svcerrors.ServiceError
	if errors.As(err, &se) {
		for _, sig := range se.Signatures {
			if !slices.Contains(out.Signatures, sig) {
				out.Signatures = append(out.Signatures, sig)
			}
		}

		if out.BatchID == "" {
			out.BatchID = se.BatchID
		}
	}

	switch code {
	case svcerrors.CodePollingTimeout:
		out.Status = types.StatusUnknown
		// The reconciler settles the job through the batch that timed out.
		if se.BatchID != "" {
			out.BatchID = se.BatchID
		}
	case svcerrors.CodeMaxRetriesExceeded, svcerrors.CodeExpiredNoResignHandler:
		out.Status = types.StatusExpired
	case svcerrors.CodeTransactionFailed:
		out.Status = types.StatusFailed
		if se.Status == types.StatusPartial {
			out.Status = types.StatusPartial
		}
	default:
		out.Status = types.StatusFailed
	}

	return out
}
