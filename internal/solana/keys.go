package solana

import (
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Keypair is an in-memory key that satisfies types.Keypair.
type Keypair struct {
	key solana.PrivateKey
}

func NewKeypair(key solana.PrivateKey) *Keypair {
	return &Keypair{key: key}
}

// GenerateKeypair creates a fresh random key, e.g. for an account that has
// to sign its own initialization.
func GenerateKeypair() (*Keypair, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, err
	}

	return &Keypair{key: key}, nil
}

// LoadPrivateKey accepts either a base58 encoded key or the path of a
// solana-keygen JSON file.
func LoadPrivateKey(value string) (solana.PrivateKey, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty private key")
	}

	if _, err := os.Stat(value); err == nil {
		return solana.PrivateKeyFromSolanaKeygenFile(value)
	}

	return solana.PrivateKeyFromBase58(value)
}

func (k *Keypair) PublicKey() string {
	return k.key.PublicKey().String()
}

func (k *Keypair) Sign(message []byte) ([]byte, error) {
	sig, err := k.key.Sign(message)
	if err != nil {
		return nil, err
	}

	return sig[:], nil
}
