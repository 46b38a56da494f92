package builder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	svcerrors "github.com/openbuilders/batch-submitter/internal/errors"
	"github.com/openbuilders/batch-submitter/internal/types"
)

// DefaultMaxInstructionsPerTx keeps an average instruction set well under the
// 1232 byte packet limit of a single transaction.
const DefaultMaxInstructionsPerTx = 10

// FeeEstimator returns a priority fee for a set of operations that will
// share one transaction.
type FeeEstimator interface {
	EstimatePriorityFee(ctx context.Context, ops []types.Operation) (uint64, error)
}

// StaticFee is a FeeEstimator that always returns the same fee.
type StaticFee uint64

func (f StaticFee) EstimatePriorityFee(context.Context, []types.Operation) (uint64, error) {
	return uint64(f), nil
}

type Options struct {
	MaxInstructionsPerTx int
	// MaxPayloadBytes bounds the summed payload size of a draft. Zero
	// disables the bound.
	MaxPayloadBytes int
	// UseFirstEstimateForAll reuses the fee estimated for the first draft
	// for every other draft of the same call.
	UseFirstEstimateForAll bool
	// BasePriorityFee is the lowest fee a draft gets.
	BasePriorityFee uint64
	// ComputeScaleUp multiplies the estimate. Values <= 0 mean 1.
	ComputeScaleUp float64
	LookupTables   []string
	ExtraSigners   []types.Keypair
}

type Builder struct {
	estimator FeeEstimator
	log       *slog.Logger
}

func New(estimator FeeEstimator) *Builder {
	return &Builder{
		estimator: estimator,
		log:       slog.With("component", "builder"),
	}
}

// Build partitions the instructions into drafts. Each group is split on its
// own and order is preserved. If any fee estimate fails, no drafts are
// returned.
func (b *Builder) Build(ctx context.Context, instructions types.Instructions,
	opts Options) ([]*types.TransactionDraft, error) {

	maxOps := opts.MaxInstructionsPerTx
	if maxOps <= 0 {
		maxOps = DefaultMaxInstructionsPerTx
	}

	var drafts []*types.TransactionDraft
	for _, group := range instructions.Groups() {
		for _, ops := range Partition(group, maxOps, opts.MaxPayloadBytes) {
			drafts = append(drafts, &types.TransactionDraft{
				Operations:      ops,
				LookupTables:    slices.Clone(opts.LookupTables),
				ExtraSigners:    slices.Clone(opts.ExtraSigners),
				RequiredSigners: requiredSigners(ops),
			})
		}
	}

	var firstFee uint64
	for i, draft := range drafts {
		if i > 0 && opts.UseFirstEstimateForAll {
			draft.PriorityFee = firstFee
			continue
		}

		fee, err := b.priorityFee(ctx, draft.Operations, opts)
		if err != nil {
			b.log.Error("fee estimation failed", "draft", i, "error", err)
			return nil, svcerrors.New(svcerrors.CodeBuild,
				fmt.Errorf("estimate priority fee for draft %d: %w", i, err))
		}

		draft.PriorityFee = fee
		if i == 0 {
			firstFee = fee
		}
	}

	b.log.Debug(
		"Built drafts",
		"operations", instructions.Len(),
		"drafts", len(drafts),
		"max_per_tx", maxOps,
	)

	return drafts, nil
}

func (b *Builder) priorityFee(ctx context.Context, ops []types.Operation,
	opts Options) (uint64, error) {

	estimate, err := b.estimator.EstimatePriorityFee(ctx, ops)
	if err != nil {
		return 0, err
	}

	if opts.ComputeScaleUp > 0 {
		estimate = uint64(math.Ceil(float64(estimate) * opts.ComputeScaleUp))
	}

	return max(estimate, opts.BasePriorityFee), nil
}

// Partition splits ops into consecutive chunks of at most maxOps operations
// and, when maxBytes > 0, at most maxBytes of payload. An operation that is
// larger than maxBytes on its own gets a chunk to itself.
func Partition(ops []types.Operation, maxOps, maxBytes int) [][]types.Operation {
	if maxOps <= 0 {
		maxOps = DefaultMaxInstructionsPerTx
	}

	var (
		chunks [][]types.Operation
		cur    []types.Operation
		size   int
	)

	for _, op := range ops {
		overBytes := maxBytes > 0 && len(cur) > 0 && size+op.Size() > maxBytes
		if len(cur) == maxOps || overBytes {
			chunks = append(chunks, cur)
			cur, size = nil, 0
		}

		cur = append(cur, op)
		size += op.Size()
	}

	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}

	return chunks
}

func requiredSigners(ops []types.Operation) []string {
	var signers []string
	for _, op := range ops {
		for _, s := range op.Signers {
			if !slices.Contains(signers, s) {
				signers = append(signers, s)
			}
		}
	}

	return signers
}
