package solana

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	lru "github.com/hashicorp/golang-lru/v2"
)

const maxCachedTables = 256

// LookupResolver loads address lookup tables and keeps the most recently
// used ones. Tables only ever grow, so a cached copy is always a valid
// prefix of the on-chain one.
type LookupResolver struct {
	client RPC
	tables *lru.Cache[solana.PublicKey, solana.PublicKeySlice]
}

func NewLookupResolver(client RPC) *LookupResolver {
	tables, _ := lru.New[solana.PublicKey, solana.PublicKeySlice](maxCachedTables)

	return &LookupResolver{
		client: client,
		tables: tables,
	}
}

// Resolve returns the addresses of every table, keyed by table address.
func (r *LookupResolver) Resolve(ctx context.Context, addresses []string) (
	map[solana.PublicKey]solana.PublicKeySlice, error) {

	out := make(map[solana.PublicKey]solana.PublicKeySlice, len(addresses))
	for _, address := range addresses {
		key, err := solana.PublicKeyFromBase58(address)
		if err != nil {
			return nil, fmt.Errorf("parse lookup table %q: %w", address, err)
		}

		table, err := r.table(ctx, key)
		if err != nil {
			return nil, err
		}

		out[key] = table
	}

	return out, nil
}

func (r *LookupResolver) table(ctx context.Context, key solana.PublicKey) (
	solana.PublicKeySlice, error) {

	if table, ok := r.tables.Get(key); ok {
		return table, nil
	}

	info, err := r.client.GetAccountInfo(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get lookup table %s: %w", key, err)
	}

	state, err := addresslookuptable.DecodeAddressLookupTableState(info.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("decode lookup table %s: %w", key, err)
	}

	r.tables.Add(key, state.Addresses)

	return state.Addresses, nil
}
