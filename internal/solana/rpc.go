package solana

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPC is the subset of the Solana JSON-RPC API the package uses.
// *rpc.Client satisfies it.
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetRecentPrioritizationFees(ctx context.Context, accounts solana.PublicKeySlice) ([]rpc.PriorizationFeeResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	SendEncodedTransactionWithOpts(ctx context.Context, encodedTx string, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool,
		transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	IsBlockhashValid(ctx context.Context, blockHash solana.Hash, commitment rpc.CommitmentType) (*rpc.IsValidBlockhashResult, error)
}

var _ RPC = (*rpc.Client)(nil)

// Cluster names as used in configuration.
const (
	ClusterMainnet = "mainnet-beta"
	ClusterDevnet  = "devnet"
)

// DefaultLookupTable returns the shared address lookup table of a cluster.
func DefaultLookupTable(cluster string, mainnet, devnet string) string {
	if cluster == ClusterDevnet {
		return devnet
	}

	return mainnet
}
