package solana

import (
	"context"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/openbuilders/batch-submitter/internal/types"
)

// Wallet is the fee payer. It signs whole batches without asking anyone;
// approval happens before the wallet ever sees a transaction.
type Wallet struct {
	key solana.PrivateKey
	log *slog.Logger
}

func NewWallet(key solana.PrivateKey) *Wallet {
	return &Wallet{
		key: key,
		log: slog.With("component", "wallet"),
	}
}

func (w *Wallet) PublicKey() string {
	return w.key.PublicKey().String()
}

// Address is PublicKey as a solana.PublicKey.
func (w *Wallet) Address() solana.PublicKey {
	return w.key.PublicKey()
}

// SignAll signs every transaction in place and returns them in the same
// order.
func (w *Wallet) SignAll(ctx context.Context, txs []*types.Transaction) (
	[]*types.Transaction, error) {

	pk := w.PublicKey()
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := attachSignature(tx, pk, func(message []byte) ([]byte, error) {
			sig, err := w.key.Sign(message)
			if err != nil {
				return nil, err
			}

			return sig[:], nil
		})
		if err != nil {
			return nil, err
		}
	}

	w.log.Debug("Signed transactions", "count", len(txs))

	return txs, nil
}
