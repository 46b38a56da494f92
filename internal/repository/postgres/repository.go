package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openbuilders/batch-submitter/internal/repository/postgres/model"
	"github.com/openbuilders/batch-submitter/internal/types"
)

const (
	DuplicateKeyValue string = "23505"
)

var (
	ErrDuplicateKeyValue = errors.New("duplicate key value")
	ErrNotFound          = errors.New("not found")
)

func (p *Postgres) SaveJob(ctx context.Context, job *types.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	_, err = p.pg.Exec(ctx,
		`INSERT INTO jobs (id, tag, payload) VALUES ($1, $2, $3)`,
		job.ID, job.Tag, payload,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == DuplicateKeyValue {
			return ErrDuplicateKeyValue
		}

		return fmt.Errorf("couldn't persist job: %w", err)
	}

	return nil
}

// UnfinishedJobs returns accepted jobs without an outcome, oldest first.
func (p *Postgres) UnfinishedJobs(ctx context.Context) ([]types.Job, error) {
	rows, err := p.pg.Query(ctx,
		`SELECT payload FROM jobs WHERE status = $1 ORDER BY created_at`,
		model.JobStatusAccepted,
	)
	if err != nil {
		return nil, fmt.Errorf("query unfinished jobs: %w", err)
	}

	payloads, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("collect unfinished jobs: %w", err)
	}

	jobs := make([]types.Job, 0, len(payloads))
	for _, payload := range payloads {
		var job types.Job
		if err := json.Unmarshal(payload, &job); err != nil {
			p.log.Error("Skipping undecodable job", "payload", string(payload), "error", err)
			continue
		}

		jobs = append(jobs, job)
	}

	return jobs, nil
}

func (p *Postgres) SaveJobResult(ctx context.Context, result types.JobResult) error {
	_, err := p.pg.Exec(ctx, `
		UPDATE jobs
		SET status = $2, batch_id = $3, signatures = $4, error_code = $5,
			error = $6, notified = FALSE, updated_at = now()
		WHERE id = $1`,
		result.JobID, string(result.Status), result.BatchID, nonNil(result.Signatures),
		result.ErrorCode, result.Error,
	)
	if err != nil {
		return fmt.Errorf("persist job result: %w", err)
	}

	return nil
}

// PendingResults returns finished jobs whose outcome was not published yet.
func (p *Postgres) PendingResults(ctx context.Context, limit int64) ([]types.JobResult, error) {
	rows, err := p.pg.Query(ctx, `
		SELECT * FROM jobs
		WHERE status <> $1 AND NOT notified
		ORDER BY created_at
		LIMIT $2`,
		model.JobStatusAccepted, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending results: %w", err)
	}

	jobs, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.Job])
	if err != nil {
		return nil, fmt.Errorf("collect pending results: %w", err)
	}

	results := make([]types.JobResult, len(jobs))
	for i, j := range jobs {
		results[i] = types.JobResult{
			JobID:      j.ID,
			Tag:        j.Tag,
			BatchID:    j.BatchID,
			Status:     types.BatchStatus(j.Status),
			Signatures: j.Signatures,
			ErrorCode:  j.ErrorCode,
			Error:      j.Error,
		}
	}

	return results, nil
}

func (p *Postgres) MarkNotified(ctx context.Context, jobIDs []uuid.UUID) error {
	_, err := p.pg.Exec(ctx,
		`UPDATE jobs SET notified = TRUE, updated_at = now() WHERE id = ANY($1)`,
		jobIDs,
	)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}

	return nil
}

// UpsertBatch records a batch the first time it is seen and its latest
// status afterwards.
func (p *Postgres) UpsertBatch(ctx context.Context, batch *types.Batch) error {
	_, err := p.pg.Exec(ctx, `
		INSERT INTO batches (batch_id, job_id, tag, chunk_index, attempt, status, signatures, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (batch_id) DO UPDATE
		SET status = EXCLUDED.status, signatures = EXCLUDED.signatures,
			error = EXCLUDED.error, updated_at = now()`,
		batch.ID, batch.JobID, batch.Tag, batch.ChunkIndex, batch.Attempt,
		string(batch.Status), nonNil(batch.Signatures), batch.Error,
	)
	if err != nil {
		return fmt.Errorf("persist batch %s: %w", batch.ID, err)
	}

	return nil
}

func (p *Postgres) GetBatch(ctx context.Context, batchID string) (*types.Batch, error) {
	rows, err := p.pg.Query(ctx, `SELECT * FROM batches WHERE batch_id = $1`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query batch: %w", err)
	}

	batch, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[types.Batch])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("collect batch: %w", err)
	}

	return batch, nil
}

// UnknownBatches returns batches that stopped being polled before they
// reached a terminal status, least recently checked first.
func (p *Postgres) UnknownBatches(ctx context.Context, limit int64) ([]types.Batch, error) {
	rows, err := p.pg.Query(ctx, `
		SELECT * FROM batches WHERE status = $1 ORDER BY updated_at LIMIT $2`,
		string(types.StatusUnknown), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query unknown batches: %w", err)
	}

	batches, err := pgx.CollectRows(rows, pgx.RowToStructByName[types.Batch])
	if err != nil {
		return nil, fmt.Errorf("collect unknown batches: %w", err)
	}

	return batches, nil
}

// UpdateBatchStatus stores the final status of a batch. A job that ended
// with this batch in an unknown state takes the status over and is
// notified again.
func (p *Postgres) UpdateBatchStatus(ctx context.Context, batchID string,
	status types.BatchStatus, signatures []string) error {

	err := pgx.BeginFunc(ctx, p.pg, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE batches SET status = $2, signatures = $3, updated_at = now()
			WHERE batch_id = $1`,
			batchID, string(status), nonNil(signatures),
		)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE jobs SET status = $2, signatures = $3, notified = FALSE, updated_at = now()
			WHERE batch_id = $1 AND status = $4`,
			batchID, string(status), nonNil(signatures), string(types.StatusUnknown),
		)

		return err
	})
	if err != nil {
		return fmt.Errorf("update batch %s: %w", batchID, err)
	}

	return nil
}

// Touch bumps updated_at so that a batch goes to the back of the
// reconciliation queue.
func (p *Postgres) Touch(ctx context.Context, batchID string) error {
	_, err := p.pg.Exec(ctx, `UPDATE batches SET updated_at = now() WHERE batch_id = $1`, batchID)
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}
