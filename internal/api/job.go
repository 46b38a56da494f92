package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/openbuilders/batch-submitter/internal/intake"
	"github.com/openbuilders/batch-submitter/internal/queue"
	"github.com/openbuilders/batch-submitter/internal/repository/postgres"
	"github.com/openbuilders/batch-submitter/internal/types"
)

const maxJobBytes = 4 << 20

type JobAccepted struct {
	JobID uuid.UUID `json:"job_id"`
}

// JobHandler validates a job and puts it on the jobs queue. The tag lock is
// taken by the intake once the job is consumed, here it is only checked to
// reject obvious duplicates early.
func (s *Server) JobHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxJobBytes))
	if err != nil {
		s.log.Error("Unable to read request body", "error", err)
		return nil, &APIError{Code: ErrorCodeBadRequest, Description: err.Error()}
	}
	defer r.Body.Close()

	var job types.Job
	if err := json.Unmarshal(bodyBytes, &job); err != nil {
		return nil, &APIError{
			Code:        ErrorCodeBadRequest,
			Description: fmt.Sprintf("job unmarshalling error: %v", err),
		}
	}

	if err := intake.Validate(&job); err != nil {
		return nil, &APIError{Code: ErrorCodeInvalidJob, Description: err.Error()}
	}

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	ctx, cancel := s.dbContext(r)
	defer cancel()

	locked, err := s.deps.Tags.TagLocked(ctx, job.Tag)
	if err != nil {
		s.log.Warn("Couldn't check tag lock", "tag", job.Tag, "error", err)
	} else if locked {
		return nil, &APIError{
			Code:        ErrorCodeTagInFlight,
			Description: fmt.Sprintf("a job with tag %q is in flight", job.Tag),
		}
	}

	message, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("job marshalling error: %w", err)
	}

	if err := s.deps.Publisher.Publish(ctx, queue.QueueJobs, message); err != nil {
		s.log.Error("Couldn't enqueue job", "job_id", job.ID, "error", err)
		return nil, &APIError{Code: ErrorCodeEnqueueing, Description: err.Error()}
	}

	s.log.Info("Accepted a new job", "job_id", job.ID, "tag", job.Tag,
		"groups", len(job.Instructions))

	return JobAccepted{JobID: job.ID}, nil
}

// BatchHandler returns the stored state of a batch.
func (s *Server) BatchHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	id := r.URL.Query().Get("id")
	if id == "" {
		return nil, &APIError{Code: ErrorCodeBadRequest, Description: "id is required"}
	}

	ctx, cancel := s.dbContext(r)
	defer cancel()

	batch, err := s.deps.Batches.GetBatch(ctx, id)
	if errors.Is(err, postgres.ErrNotFound) {
		return nil, &APIError{Code: ErrorCodeNotFound, Description: id}
	}

	if err != nil {
		return nil, err
	}

	return batch, nil
}
