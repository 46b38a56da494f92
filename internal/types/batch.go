package types

import (
	"time"

	"github.com/google/uuid"
)

type BatchStatus string

const (
	StatusPending   BatchStatus = "pending"
	StatusConfirmed BatchStatus = "confirmed"
	StatusFailed    BatchStatus = "failed"
	StatusExpired   BatchStatus = "expired"
	StatusPartial   BatchStatus = "partial"
	// StatusUnknown is never reported by the backend. It marks batches the
	// client stopped polling before they reached a terminal state.
	StatusUnknown BatchStatus = "unknown"
)

// IsTerminal reports whether the backend will never change the status again.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusExpired, StatusPartial:
		return true
	}

	return false
}

type Metadata struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type SubmittedTransaction struct {
	SerializedTransaction string    `json:"serializedTransaction"`
	Metadata              *Metadata `json:"metadata,omitempty"`
}

// BatchSubmission is the body accepted by the remote execution service.
type BatchSubmission struct {
	Transactions []SubmittedTransaction `json:"transactions"`
	Parallel     bool                   `json:"parallel"`
	Tag          string                 `json:"tag,omitempty"`
}

// NewBatchSubmission serializes signed transactions for submission.
func NewBatchSubmission(txs []*Transaction, parallel bool, tag string,
	metadata *Metadata) *BatchSubmission {

	submitted := make([]SubmittedTransaction, len(txs))
	for i, tx := range txs {
		submitted[i] = SubmittedTransaction{
			SerializedTransaction: tx.Base64(),
			Metadata:              metadata,
		}
	}

	return &BatchSubmission{
		Transactions: submitted,
		Parallel:     parallel,
		Tag:          tag,
	}
}

type TransactionSignature struct {
	Signature string `json:"signature"`
}

// BatchResult is the status of a submitted batch as reported by the backend.
type BatchResult struct {
	Status       BatchStatus            `json:"status"`
	Transactions []TransactionSignature `json:"transactions,omitempty"`
}

func (r *BatchResult) Signatures() []string {
	signatures := make([]string, 0, len(r.Transactions))
	for _, t := range r.Transactions {
		if t.Signature != "" {
			signatures = append(signatures, t.Signature)
		}
	}

	return signatures
}

// Batch is the local record of a submitted batch.
type Batch struct {
	ID         string      `db:"batch_id" json:"batch_id"`
	JobID      uuid.UUID   `db:"job_id" json:"job_id"`
	Tag        string      `db:"tag" json:"tag"`
	ChunkIndex int         `db:"chunk_index" json:"chunk_index"`
	Attempt    int         `db:"attempt" json:"attempt"`
	Status     BatchStatus `db:"status" json:"status"`
	Signatures []string    `db:"signatures" json:"signatures"`
	Error      string      `db:"error" json:"error,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updated_at"`
}
