package model

import (
	"time"

	"github.com/google/uuid"
)

// Job is a row of the jobs table. Payload holds the job as received.
type Job struct {
	ID         uuid.UUID `db:"id"`
	Tag        string    `db:"tag"`
	Payload    []byte    `db:"payload"`
	Status     string    `db:"status"`
	BatchID    string    `db:"batch_id"`
	Signatures []string  `db:"signatures"`
	ErrorCode  string    `db:"error_code"`
	Error      string    `db:"error"`
	Notified   bool      `db:"notified"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// JobStatusAccepted marks a job that has no outcome yet.
const JobStatusAccepted = "accepted"
