package solana

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/openbuilders/batch-submitter/internal/types"
)

// instructionPayload is the borsh layout of an instruction carried as an
// opaque operation payload.
type instructionPayload struct {
	ProgramID solana.PublicKey
	Accounts  []accountMeta
	Data      []byte
}

type accountMeta struct {
	PublicKey  solana.PublicKey
	IsSigner   bool
	IsWritable bool
}

// EncodeInstruction turns a Solana instruction into an operation. Signer
// accounts other than wallet are listed in Operation.Signers.
func EncodeInstruction(ix solana.Instruction, wallet solana.PublicKey) (types.Operation, error) {
	data, err := ix.Data()
	if err != nil {
		return types.Operation{}, fmt.Errorf("instruction data: %w", err)
	}

	payload := instructionPayload{
		ProgramID: ix.ProgramID(),
		Data:      data,
	}

	var signers []string
	for _, acc := range ix.Accounts() {
		payload.Accounts = append(payload.Accounts, accountMeta{
			PublicKey:  acc.PublicKey,
			IsSigner:   acc.IsSigner,
			IsWritable: acc.IsWritable,
		})

		if acc.IsSigner && !acc.PublicKey.Equals(wallet) {
			signers = append(signers, acc.PublicKey.String())
		}
	}

	encoded, err := bin.MarshalBorsh(&payload)
	if err != nil {
		return types.Operation{}, fmt.Errorf("encode instruction: %w", err)
	}

	return types.Operation{Payload: encoded, Signers: signers}, nil
}

// DecodeOperation is the inverse of EncodeInstruction.
func DecodeOperation(op types.Operation) (solana.Instruction, error) {
	var payload instructionPayload
	if err := bin.UnmarshalBorsh(&payload, op.Payload); err != nil {
		return nil, fmt.Errorf("decode instruction: %w", err)
	}

	accounts := make(solana.AccountMetaSlice, len(payload.Accounts))
	for i, acc := range payload.Accounts {
		accounts[i] = solana.NewAccountMeta(acc.PublicKey, acc.IsWritable, acc.IsSigner)
	}

	return solana.NewInstruction(payload.ProgramID, accounts, payload.Data), nil
}

// writableAccounts lists the distinct writable accounts touched by ops,
// which is what the prioritization fee depends on.
func writableAccounts(ops []types.Operation) (solana.PublicKeySlice, error) {
	var accounts solana.PublicKeySlice
	for _, op := range ops {
		ix, err := DecodeOperation(op)
		if err != nil {
			return nil, err
		}

		for _, acc := range ix.Accounts() {
			if acc.IsWritable {
				accounts.UniqueAppend(acc.PublicKey)
			}
		}
	}

	return accounts, nil
}
