package approval

import (
	"context"
	"slices"
)

// Gate presents a request to an operator and blocks until a decision is
// made or ctx is done. Every call is an independent decision.
type Gate interface {
	Show(ctx context.Context, req Request) (bool, error)
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context, req Request) (bool, error)

func (f GateFunc) Show(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

// Policy decides without an operator. It is meant for batches generated by
// the service itself. When Kinds is empty the decision applies to every
// kind, otherwise requests of other kinds are rejected.
type Policy struct {
	Approve bool
	Kinds   []Kind
}

var (
	AutoApprove = Policy{Approve: true}
	AutoReject  = Policy{Approve: false}
)

func (p Policy) Show(ctx context.Context, req Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if len(p.Kinds) > 0 && !slices.Contains(p.Kinds, req.Kind()) {
		return false, nil
	}

	return p.Approve, nil
}
