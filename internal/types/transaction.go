package types

import (
	"encoding/base64"
	"slices"
)

// TransactionDraft is an ordered set of operations that will be compiled into
// exactly one transaction.
type TransactionDraft struct {
	Operations []Operation
	// Priority fee in micro-lamports per compute unit (or the backend's
	// equivalent unit).
	PriorityFee  uint64
	LookupTables []string
	ExtraSigners []Keypair
	// RequiredSigners are the non-wallet signers the operations declared,
	// ordered by first appearance.
	RequiredSigners []string
	// RecentBlockhash is filled in by the compiler right before signing.
	RecentBlockhash string
}

// Size returns the sum of the payload sizes of the draft's operations.
func (d *TransactionDraft) Size() int {
	total := 0
	for _, op := range d.Operations {
		total += op.Size()
	}

	return total
}

// Requires reports whether the draft needs a signature from publicKey.
func (d *TransactionDraft) Requires(publicKey string) bool {
	return slices.Contains(d.RequiredSigners, publicKey)
}

// Transaction is a compiled wire transaction. Payload is updated in place
// every time a signer attaches its signature.
type Transaction struct {
	Draft    *TransactionDraft
	Payload  []byte
	SignedBy []string
}

func (t *Transaction) MarkSigned(publicKey string) {
	if !slices.Contains(t.SignedBy, publicKey) {
		t.SignedBy = append(t.SignedBy, publicKey)
	}
}

func (t *Transaction) IsSignedBy(publicKey string) bool {
	return slices.Contains(t.SignedBy, publicKey)
}

// MissingSigners returns the extra signers the draft carries key pairs for
// that are required by the draft but have not signed yet.
func (t *Transaction) MissingSigners() []string {
	if t.Draft == nil {
		return nil
	}

	var missing []string
	for _, kp := range t.Draft.ExtraSigners {
		pk := kp.PublicKey()
		if t.Draft.Requires(pk) && !t.IsSignedBy(pk) {
			missing = append(missing, pk)
		}
	}

	return missing
}

// Base64 returns the payload in the encoding the submission API expects.
func (t *Transaction) Base64() string {
	return base64.StdEncoding.EncodeToString(t.Payload)
}

// Clone returns a copy that can be signed without touching the original.
func (t *Transaction) Clone() *Transaction {
	return &Transaction{
		Draft:    t.Draft,
		Payload:  slices.Clone(t.Payload),
		SignedBy: slices.Clone(t.SignedBy),
	}
}
