package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/openbuilders/batch-submitter/internal/types"
)

var ErrNotASigner = errors.New("key is not a signer of the transaction")

type CompilerConfig struct {
	Payer      solana.PublicKey
	Commitment rpc.CommitmentType
}

// Compiler turns drafts into unsigned wire transactions and attaches extra
// signatures to them.
type Compiler struct {
	config  *CompilerConfig
	client  RPC
	lookups *LookupResolver
	log     *slog.Logger
}

func NewCompiler(config *CompilerConfig, client RPC, lookups *LookupResolver) *Compiler {
	if config.Commitment == "" {
		config.Commitment = rpc.CommitmentFinalized
	}

	return &Compiler{
		config:  config,
		client:  client,
		lookups: lookups,
		log:     slog.With("component", "compiler"),
	}
}

// Compile fetches one blockhash and compiles every draft against it. Each
// draft's RecentBlockhash is updated.
func (c *Compiler) Compile(ctx context.Context, drafts []*types.TransactionDraft) (
	[]*types.Transaction, error) {

	latest, err := c.client.GetLatestBlockhash(ctx, c.config.Commitment)
	if err != nil {
		return nil, fmt.Errorf("get latest blockhash: %w", err)
	}

	if latest == nil || latest.Value == nil {
		return nil, fmt.Errorf("get latest blockhash: empty response")
	}

	blockhash := latest.Value.Blockhash

	txs := make([]*types.Transaction, len(drafts))
	for i, draft := range drafts {
		payload, err := c.compile(ctx, draft, blockhash)
		if err != nil {
			return nil, fmt.Errorf("draft %d: %w", i, err)
		}

		draft.RecentBlockhash = blockhash.String()
		txs[i] = &types.Transaction{Draft: draft, Payload: payload}
	}

	c.log.Debug(
		"Compiled transactions",
		"count", len(txs),
		"blockhash", blockhash,
		"last_valid_height", latest.Value.LastValidBlockHeight,
	)

	return txs, nil
}

func (c *Compiler) compile(ctx context.Context, draft *types.TransactionDraft,
	blockhash solana.Hash) ([]byte, error) {

	ixs := make([]solana.Instruction, 0, len(draft.Operations)+1)
	if draft.PriorityFee > 0 {
		ixs = append(ixs, computebudget.NewSetComputeUnitPriceInstruction(draft.PriorityFee).Build())
	}

	for _, op := range draft.Operations {
		ix, err := DecodeOperation(op)
		if err != nil {
			return nil, err
		}

		ixs = append(ixs, ix)
	}

	opts := []solana.TransactionOption{solana.TransactionPayer(c.config.Payer)}
	if len(draft.LookupTables) > 0 {
		tables, err := c.lookups.Resolve(ctx, draft.LookupTables)
		if err != nil {
			return nil, err
		}

		opts = append(opts, solana.TransactionAddressTables(tables))
	}

	tx, err := solana.NewTransaction(ixs, blockhash, opts...)
	if err != nil {
		return nil, fmt.Errorf("new transaction: %w", err)
	}

	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)

	return tx.MarshalBinary()
}

// Cosign signs tx with an extra key pair and stores the signature in its
// slot.
func (c *Compiler) Cosign(tx *types.Transaction, kp types.Keypair) error {
	return attachSignature(tx, kp.PublicKey(), kp.Sign)
}

func attachSignature(tx *types.Transaction, publicKey string,
	sign func(message []byte) ([]byte, error)) error {

	decoded, err := solana.TransactionFromBytes(tx.Payload)
	if err != nil {
		return fmt.Errorf("decode transaction: %w", err)
	}

	signer, err := solana.PublicKeyFromBase58(publicKey)
	if err != nil {
		return fmt.Errorf("parse signer %s: %w", publicKey, err)
	}

	idx := signerIndex(decoded, signer)
	if idx < 0 {
		return fmt.Errorf("%s: %w", publicKey, ErrNotASigner)
	}

	message, err := decoded.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	raw, err := sign(message)
	if err != nil {
		return fmt.Errorf("sign with %s: %w", publicKey, err)
	}

	if len(raw) != solana.SignatureLength {
		return fmt.Errorf("sign with %s: got %d signature bytes", publicKey, len(raw))
	}

	if len(decoded.Signatures) != int(decoded.Message.Header.NumRequiredSignatures) {
		sigs := make([]solana.Signature, decoded.Message.Header.NumRequiredSignatures)
		copy(sigs, decoded.Signatures)
		decoded.Signatures = sigs
	}

	decoded.Signatures[idx] = solana.SignatureFromBytes(raw)

	payload, err := decoded.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}

	tx.Payload = payload
	tx.MarkSigned(publicKey)

	return nil
}

func signerIndex(tx *solana.Transaction, key solana.PublicKey) int {
	n := int(tx.Message.Header.NumRequiredSignatures)
	for i, k := range tx.Message.AccountKeys {
		if i >= n {
			break
		}

		if k.Equals(key) {
			return i
		}
	}

	return -1
}

// Signatures returns the base58 signatures of a wire transaction, zero
// signatures included as empty strings.
func Signatures(payload []byte) ([]string, error) {
	decoded, err := solana.TransactionFromBytes(payload)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(decoded.Signatures))
	for i, sig := range decoded.Signatures {
		if !sig.IsZero() {
			out[i] = sig.String()
		}
	}

	return out, nil
}
