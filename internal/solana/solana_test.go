package solana

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"github.com/openbuilders/batch-submitter/internal/types"
)

type fakeRPC struct {
	mu sync.Mutex

	blockhash    solana.Hash
	fees         []rpc.PriorizationFeeResult
	feeAccounts  solana.PublicKeySlice
	tables       map[solana.PublicKey][]byte
	accountCalls int
	sent         []string
	sendErr      error
	statuses     []*rpc.SignatureStatusesResult
	hashValid    bool
}

func newFakeRPC() *fakeRPC {
	var hash solana.Hash
	for i := range hash {
		hash[i] = byte(i + 1)
	}

	return &fakeRPC{blockhash: hash, tables: map[solana.PublicKey][]byte{}}
}

func (f *fakeRPC) GetLatestBlockhash(context.Context, rpc.CommitmentType) (
	*rpc.GetLatestBlockhashResult, error) {

	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: f.blockhash, LastValidBlockHeight: 100},
	}, nil
}

func (f *fakeRPC) GetRecentPrioritizationFees(_ context.Context, accounts solana.PublicKeySlice) (
	[]rpc.PriorizationFeeResult, error) {

	f.feeAccounts = accounts
	return f.fees, nil
}

func (f *fakeRPC) GetAccountInfo(_ context.Context, account solana.PublicKey) (
	*rpc.GetAccountInfoResult, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	f.accountCalls++
	data, ok := f.tables[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}

	return &rpc.GetAccountInfoResult{
		Value: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(data)},
	}, nil
}

func (f *fakeRPC) SendEncodedTransactionWithOpts(_ context.Context, encodedTx string,
	_ rpc.TransactionOpts) (solana.Signature, error) {

	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}

	raw, err := base64.StdEncoding.DecodeString(encodedTx)
	if err != nil {
		return solana.Signature{}, err
	}

	tx, err := solana.TransactionFromBytes(raw)
	if err != nil {
		return solana.Signature{}, err
	}

	f.mu.Lock()
	f.sent = append(f.sent, encodedTx)
	f.mu.Unlock()

	return tx.Signatures[0], nil
}

func (f *fakeRPC) GetSignatureStatuses(_ context.Context, _ bool,
	_ ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {

	return &rpc.GetSignatureStatusesResult{Value: f.statuses}, nil
}

func (f *fakeRPC) IsBlockhashValid(context.Context, solana.Hash, rpc.CommitmentType) (
	*rpc.IsValidBlockhashResult, error) {

	return &rpc.IsValidBlockhashResult{Value: f.hashValid}, nil
}

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	return key
}

// transfer builds an instruction the wallet and, optionally, an extra
// account have to sign.
func transfer(t *testing.T, wallet solana.PublicKey, extra *solana.PublicKey) types.Operation {
	t.Helper()

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(wallet, true, true),
		solana.NewAccountMeta(newKey(t).PublicKey(), true, false),
	}

	if extra != nil {
		accounts = append(accounts, solana.NewAccountMeta(*extra, true, true))
	}

	op, err := EncodeInstruction(solana.NewInstruction(solana.SystemProgramID, accounts, []byte{2, 0, 0, 0}), wallet)
	require.NoError(t, err)

	return op
}

func TestInstructionRoundTrip(t *testing.T) {
	t.Parallel()

	wallet := newKey(t).PublicKey()
	extra := newKey(t).PublicKey()
	op := transfer(t, wallet, &extra)

	require.Equal(t, []string{extra.String()}, op.Signers)

	ix, err := DecodeOperation(op)
	require.NoError(t, err)
	require.Equal(t, solana.SystemProgramID, ix.ProgramID())
	require.Len(t, ix.Accounts(), 3)
	require.True(t, ix.Accounts()[0].IsSigner)
	require.False(t, ix.Accounts()[1].IsSigner)

	data, err := ix.Data()
	require.NoError(t, err)
	require.Equal(t, []byte{2, 0, 0, 0}, data)
}

func TestDecodeOperation_Garbage(t *testing.T) {
	t.Parallel()

	_, err := DecodeOperation(types.Operation{Payload: []byte{1}})
	require.Error(t, err)
}

func TestCompileSignCosign(t *testing.T) {
	t.Parallel()

	node := newFakeRPC()
	walletKey := newKey(t)
	wallet := NewWallet(walletKey)
	extraKey := newKey(t)
	extraPub := extraKey.PublicKey()

	compiler := NewCompiler(&CompilerConfig{Payer: wallet.Address()}, node, NewLookupResolver(node))

	draft := &types.TransactionDraft{
		Operations:  []types.Operation{transfer(t, wallet.Address(), &extraPub)},
		PriorityFee: 5000,
	}

	txs, err := compiler.Compile(context.Background(), []*types.TransactionDraft{draft})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, node.blockhash.String(), draft.RecentBlockhash)

	decoded, err := solana.TransactionFromBytes(txs[0].Payload)
	require.NoError(t, err)
	require.Len(t, decoded.Message.Instructions, 2)
	require.Equal(t, wallet.Address(), decoded.Message.AccountKeys[0])

	programs, err := decoded.GetProgramIDs()
	require.NoError(t, err)
	require.Equal(t, solana.ComputeBudget, programs[0])

	_, err = wallet.SignAll(context.Background(), txs)
	require.NoError(t, err)
	require.True(t, txs[0].IsSignedBy(wallet.PublicKey()))

	require.NoError(t, compiler.Cosign(txs[0], NewKeypair(extraKey)))
	require.True(t, txs[0].IsSignedBy(extraPub.String()))

	signed, err := solana.TransactionFromBytes(txs[0].Payload)
	require.NoError(t, err)
	require.NoError(t, signed.VerifySignatures())

	sigs, err := Signatures(txs[0].Payload)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	require.NotEmpty(t, sigs[0])
	require.NotEmpty(t, sigs[1])
}

func TestCompile_NoFeeNoBudgetInstruction(t *testing.T) {
	t.Parallel()

	node := newFakeRPC()
	wallet := NewWallet(newKey(t))
	compiler := NewCompiler(&CompilerConfig{Payer: wallet.Address()}, node, NewLookupResolver(node))

	txs, err := compiler.Compile(context.Background(), []*types.TransactionDraft{
		{Operations: []types.Operation{transfer(t, wallet.Address(), nil)}},
	})
	require.NoError(t, err)

	decoded, err := solana.TransactionFromBytes(txs[0].Payload)
	require.NoError(t, err)
	require.Len(t, decoded.Message.Instructions, 1)
	require.Len(t, decoded.Signatures, 1)
	require.True(t, decoded.Signatures[0].IsZero())
}

func TestCosign_NotASigner(t *testing.T) {
	t.Parallel()

	node := newFakeRPC()
	wallet := NewWallet(newKey(t))
	compiler := NewCompiler(&CompilerConfig{Payer: wallet.Address()}, node, NewLookupResolver(node))

	txs, err := compiler.Compile(context.Background(), []*types.TransactionDraft{
		{Operations: []types.Operation{transfer(t, wallet.Address(), nil)}},
	})
	require.NoError(t, err)

	stranger, err := GenerateKeypair()
	require.NoError(t, err)

	err = compiler.Cosign(txs[0], stranger)
	require.ErrorIs(t, err, ErrNotASigner)
	require.False(t, txs[0].IsSignedBy(stranger.PublicKey()))
}

func TestFeeEstimator_Median(t *testing.T) {
	t.Parallel()

	node := newFakeRPC()
	node.fees = []rpc.PriorizationFeeResult{
		{Slot: 1, PrioritizationFee: 0},
		{Slot: 2, PrioritizationFee: 300},
		{Slot: 3, PrioritizationFee: 100},
		{Slot: 4, PrioritizationFee: 200},
	}

	wallet := newKey(t).PublicKey()
	ops := []types.Operation{transfer(t, wallet, nil), transfer(t, wallet, nil)}

	fee, err := NewFeeEstimator(node).EstimatePriorityFee(context.Background(), ops)
	require.NoError(t, err)
	require.Equal(t, uint64(200), fee)

	// The wallet is shared, the destinations are not.
	require.Len(t, node.feeAccounts, 3)
}

func TestFeeEstimator_NoFees(t *testing.T) {
	t.Parallel()

	node := newFakeRPC()

	fee, err := NewFeeEstimator(node).EstimatePriorityFee(context.Background(),
		[]types.Operation{transfer(t, newKey(t).PublicKey(), nil)})
	require.NoError(t, err)
	require.Zero(t, fee)
}

func lookupTableData(addresses ...solana.PublicKey) []byte {
	data := make([]byte, 56)
	data[0] = 1
	for _, a := range addresses {
		data = append(data, a[:]...)
	}

	return data
}

func TestLookupResolver_Caches(t *testing.T) {
	t.Parallel()

	node := newFakeRPC()
	table := newKey(t).PublicKey()
	a, b := newKey(t).PublicKey(), newKey(t).PublicKey()
	node.tables[table] = lookupTableData(a, b)

	resolver := NewLookupResolver(node)
	for range 2 {
		tables, err := resolver.Resolve(context.Background(), []string{table.String()})
		require.NoError(t, err)
		require.Equal(t, solana.PublicKeySlice{a, b}, tables[table])
	}

	require.Equal(t, 1, node.accountCalls)
}

func TestLookupResolver_Missing(t *testing.T) {
	t.Parallel()

	node := newFakeRPC()

	_, err := NewLookupResolver(node).Resolve(context.Background(), []string{newKey(t).PublicKey().String()})
	require.ErrorIs(t, err, rpc.ErrNotFound)

	_, err = NewLookupResolver(node).Resolve(context.Background(), []string{"not-a-key"})
	require.Error(t, err)
}

func signedBatch(t *testing.T, node *fakeRPC, n int, parallel bool) *types.BatchSubmission {
	t.Helper()

	wallet := NewWallet(newKey(t))
	compiler := NewCompiler(&CompilerConfig{Payer: wallet.Address()}, node, NewLookupResolver(node))

	drafts := make([]*types.TransactionDraft, n)
	for i := range drafts {
		drafts[i] = &types.TransactionDraft{Operations: []types.Operation{transfer(t, wallet.Address(), nil)}}
	}

	txs, err := compiler.Compile(context.Background(), drafts)
	require.NoError(t, err)

	_, err = wallet.SignAll(context.Background(), txs)
	require.NoError(t, err)

	return types.NewBatchSubmission(txs, parallel, "test", nil)
}

func confirmed(status rpc.ConfirmationStatusType, err interface{}) *rpc.SignatureStatusesResult {
	return &rpc.SignatureStatusesResult{ConfirmationStatus: status, Err: err}
}

func TestSubmitter_Statuses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		statuses  []*rpc.SignatureStatusesResult
		hashValid bool
		status    types.BatchStatus
		landed    int
	}{
		{
			name: "all confirmed",
			statuses: []*rpc.SignatureStatusesResult{
				confirmed(rpc.ConfirmationStatusConfirmed, nil),
				confirmed(rpc.ConfirmationStatusFinalized, nil),
			},
			status: types.StatusConfirmed,
			landed: 2,
		},
		{
			name: "processed is not enough",
			statuses: []*rpc.SignatureStatusesResult{
				confirmed(rpc.ConfirmationStatusConfirmed, nil),
				confirmed(rpc.ConfirmationStatusProcessed, nil),
			},
			hashValid: true,
			status:    types.StatusPending,
			landed:    1,
		},
		{
			name: "one failed",
			statuses: []*rpc.SignatureStatusesResult{
				confirmed(rpc.ConfirmationStatusConfirmed, nil),
				confirmed(rpc.ConfirmationStatusConfirmed, map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}),
			},
			status: types.StatusPartial,
			landed: 1,
		},
		{
			name: "all failed",
			statuses: []*rpc.SignatureStatusesResult{
				confirmed(rpc.ConfirmationStatusConfirmed, "err"),
				confirmed(rpc.ConfirmationStatusConfirmed, "err"),
			},
			status: types.StatusFailed,
		},
		{
			name:     "expired",
			statuses: []*rpc.SignatureStatusesResult{nil, nil},
			status:   types.StatusExpired,
		},
		{
			name:     "expired after one landed",
			statuses: []*rpc.SignatureStatusesResult{confirmed(rpc.ConfirmationStatusFinalized, nil), nil},
			status:   types.StatusPartial,
			landed:   1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			node := newFakeRPC()
			node.statuses = tc.statuses
			node.hashValid = tc.hashValid

			s := NewSubmitter(&SubmitterConfig{}, node)

			id, err := s.Submit(context.Background(), signedBatch(t, node, 2, false))
			require.NoError(t, err)
			require.Len(t, node.sent, 2)

			result, err := s.Get(context.Background(), id, "confirmed")
			require.NoError(t, err)
			require.Equal(t, tc.status, result.Status)
			require.Len(t, result.Signatures(), tc.landed)
		})
	}
}

func TestSubmitter_Parallel(t *testing.T) {
	t.Parallel()

	node := newFakeRPC()
	s := NewSubmitter(&SubmitterConfig{SkipPreflight: true}, node)

	_, err := s.Submit(context.Background(), signedBatch(t, node, 4, true))
	require.NoError(t, err)
	require.Len(t, node.sent, 4)
}

func TestSubmitter_Errors(t *testing.T) {
	t.Parallel()

	node := newFakeRPC()
	batch := signedBatch(t, node, 1, false)
	node.sendErr = errors.New("node is behind")

	s := NewSubmitter(&SubmitterConfig{}, node)

	_, err := s.Submit(context.Background(), batch)
	require.ErrorContains(t, err, "node is behind")

	_, err = s.Get(context.Background(), "nope", "confirmed")
	require.Error(t, err)
}
