package solana

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/openbuilders/batch-submitter/internal/types"
)

type SubmitterConfig struct {
	SkipPreflight       bool
	PreflightCommitment rpc.CommitmentType
}

// maxTrackedBatches bounds the batches whose status can be queried.
const maxTrackedBatches = 10000

// Submitter sends batches straight to a cluster node instead of a remote
// execution service. Recent batches are tracked in memory, so statuses are
// only known to the process that submitted them.
type Submitter struct {
	config  *SubmitterConfig
	client  RPC
	log     *slog.Logger
	batches *lru.Cache[string, *sentBatch]
}

type sentBatch struct {
	blockhash  solana.Hash
	signatures []solana.Signature
}

func NewSubmitter(config *SubmitterConfig, client RPC) *Submitter {
	if config.PreflightCommitment == "" {
		config.PreflightCommitment = rpc.CommitmentConfirmed
	}

	batches, _ := lru.New[string, *sentBatch](maxTrackedBatches)

	return &Submitter{
		config:  config,
		client:  client,
		log:     slog.With("component", "submitter"),
		batches: batches,
	}
}

// Submit sends every transaction of the batch. Non-parallel batches are
// sent one by one in order.
func (s *Submitter) Submit(ctx context.Context, submission *types.BatchSubmission) (
	string, error) {

	batch := &sentBatch{signatures: make([]solana.Signature, len(submission.Transactions))}
	for i, t := range submission.Transactions {
		raw, err := base64.StdEncoding.DecodeString(t.SerializedTransaction)
		if err != nil {
			return "", fmt.Errorf("transaction %d: %w", i, err)
		}

		tx, err := solana.TransactionFromBytes(raw)
		if err != nil {
			return "", fmt.Errorf("transaction %d: %w", i, err)
		}

		batch.blockhash = tx.Message.RecentBlockhash
	}

	opts := rpc.TransactionOpts{
		SkipPreflight:       s.config.SkipPreflight,
		PreflightCommitment: s.config.PreflightCommitment,
	}

	send := func(i int) error {
		sig, err := s.client.SendEncodedTransactionWithOpts(ctx,
			submission.Transactions[i].SerializedTransaction, opts)
		if err != nil {
			return fmt.Errorf("send transaction %d: %w", i, err)
		}

		batch.signatures[i] = sig

		return nil
	}

	if submission.Parallel {
		var g errgroup.Group
		for i := range submission.Transactions {
			g.Go(func() error { return send(i) })
		}

		if err := g.Wait(); err != nil {
			return "", err
		}
	} else {
		for i := range submission.Transactions {
			if err := send(i); err != nil {
				return "", err
			}
		}
	}

	id := uuid.New().String()

	s.batches.Add(id, batch)

	s.log.Debug("Sent batch", "batch_id", id, "tag", submission.Tag, "count", len(batch.signatures))

	return id, nil
}

// Get derives a batch status from the signature statuses of its
// transactions. Transactions still missing once the blockhash expired will
// never land.
func (s *Submitter) Get(ctx context.Context, batchID string, commitment string) (
	*types.BatchResult, error) {

	batch, ok := s.batches.Get(batchID)
	if !ok {
		return nil, fmt.Errorf("unknown batch %s", batchID)
	}

	statuses, err := s.client.GetSignatureStatuses(ctx, true, batch.signatures...)
	if err != nil {
		return nil, fmt.Errorf("get signature statuses: %w", err)
	}

	var (
		landed  []types.TransactionSignature
		failed  int
		missing int
	)

	for i, sig := range batch.signatures {
		var st *rpc.SignatureStatusesResult
		if statuses != nil && i < len(statuses.Value) {
			st = statuses.Value[i]
		}

		switch {
		case st == nil || !reached(st.ConfirmationStatus, commitment):
			missing++
		case st.Err != nil:
			failed++
		default:
			landed = append(landed, types.TransactionSignature{Signature: sig.String()})
		}
	}

	if missing > 0 {
		valid, err := s.client.IsBlockhashValid(ctx, batch.blockhash, rpc.CommitmentProcessed)
		if err != nil {
			return nil, fmt.Errorf("check blockhash: %w", err)
		}

		if valid.Value {
			return &types.BatchResult{Status: types.StatusPending, Transactions: landed}, nil
		}
	}

	return &types.BatchResult{
		Status:       outcome(len(landed), failed, missing),
		Transactions: landed,
	}, nil
}

// outcome classifies a batch whose transactions will not change anymore.
func outcome(landed, failed, expired int) types.BatchStatus {
	switch {
	case failed == 0 && expired == 0:
		return types.StatusConfirmed
	case landed > 0:
		return types.StatusPartial
	case failed > 0:
		return types.StatusFailed
	default:
		return types.StatusExpired
	}
}

var commitmentRank = map[string]int{
	string(rpc.ConfirmationStatusProcessed): 0,
	string(rpc.ConfirmationStatusConfirmed): 1,
	string(rpc.ConfirmationStatusFinalized): 2,
}

func reached(status rpc.ConfirmationStatusType, commitment string) bool {
	have, ok := commitmentRank[string(status)]
	if !ok {
		return false
	}

	return have >= commitmentRank[commitment]
}
