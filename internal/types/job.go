package types

import (
	"github.com/google/uuid"
)

// Job is a submission request received over the API or the jobs queue.
// Every inner slice of Instructions is a pre-grouped set of operations.
type Job struct {
	ID           uuid.UUID     `json:"id"`
	Tag          string        `json:"tag" validate:"required,max=64"`
	Header       string        `json:"header" validate:"required"`
	Message      string        `json:"message"`
	Instructions [][]Operation `json:"instructions" validate:"required,min=1,dive,min=1"`
	Sequential   bool          `json:"sequential"`
	ChunkSize    int           `json:"chunk_size" validate:"gte=0"`
	MaxRetries   *int          `json:"max_retries,omitempty" validate:"omitempty,gte=0,lte=10"`
	LookupTables []string      `json:"lookup_tables,omitempty"`
}

// JobResult is published once a job reaches a terminal outcome.
type JobResult struct {
	JobID      uuid.UUID   `json:"job_id"`
	Tag        string      `json:"tag"`
	BatchID    string      `json:"batch_id,omitempty"`
	Status     BatchStatus `json:"status"`
	Signatures []string    `json:"signatures,omitempty"`
	ErrorCode  string      `json:"error_code,omitempty"`
	Error      string      `json:"error,omitempty"`
}
