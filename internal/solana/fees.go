package solana

import (
	"context"
	"fmt"
	"slices"

	"github.com/openbuilders/batch-submitter/internal/types"
)

// FeeEstimator derives a priority fee from the fees recently paid for the
// writable accounts an instruction set touches.
type FeeEstimator struct {
	client RPC
}

func NewFeeEstimator(client RPC) *FeeEstimator {
	return &FeeEstimator{client: client}
}

// EstimatePriorityFee returns the median of the non-zero recent fees, or
// zero when nobody paid one.
func (e *FeeEstimator) EstimatePriorityFee(ctx context.Context, ops []types.Operation) (
	uint64, error) {

	accounts, err := writableAccounts(ops)
	if err != nil {
		return 0, err
	}

	recent, err := e.client.GetRecentPrioritizationFees(ctx, accounts)
	if err != nil {
		return 0, fmt.Errorf("get recent prioritization fees: %w", err)
	}

	var fees []uint64
	for _, r := range recent {
		if r.PrioritizationFee > 0 {
			fees = append(fees, r.PrioritizationFee)
		}
	}

	if len(fees) == 0 {
		return 0, nil
	}

	slices.Sort(fees)

	return fees[len(fees)/2], nil
}
