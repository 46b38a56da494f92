package lifecycle

import (
	"context"

	"github.com/openbuilders/batch-submitter/internal/types"
)

const DefaultMaxRetries = 3

// ResignFunc produces fresh unsigned transactions, with a new blockhash,
// after the previous attempt expired.
type ResignFunc func(ctx context.Context) ([]*types.Transaction, error)

// RetryContext tracks expiry retries of one logical submission.
// Attempt never exceeds MaxRetries.
type RetryContext struct {
	Attempt    int
	MaxRetries int
	Resign     ResignFunc
}

// Exhausted reports whether another resign would exceed the budget.
func (r *RetryContext) Exhausted() bool {
	return r.Attempt >= r.MaxRetries
}

type options struct {
	maxRetries int
	resign     ResignFunc
	recompile  bool
}

type Option func(*options)

// WithMaxRetries bounds how many times an expired batch is resigned.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		o.maxRetries = max(n, 0)
	}
}

// WithResign installs the handler called when a batch expires. It replaces
// an earlier WithRecompileOnExpiry.
func WithResign(fn ResignFunc) Option {
	return func(o *options) {
		o.resign, o.recompile = fn, false
	}
}

// WithRecompileOnExpiry resigns expired batches by recompiling their drafts
// with a fresh blockhash. It replaces an earlier WithResign handler.
func WithRecompileOnExpiry() Option {
	return func(o *options) {
		o.resign, o.recompile = nil, true
	}
}

func applyOptions(defaultRetries int, opts []Option) options {
	o := options{maxRetries: defaultRetries}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}
