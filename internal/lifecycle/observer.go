package lifecycle

import (
	"context"

	"github.com/openbuilders/batch-submitter/internal/types"
)

// Event describes one attempt of a batch.
type Event struct {
	Tag          string
	BatchID      string
	Attempt      int
	Transactions int
	Status       types.BatchStatus
	Signatures   []string
	Err          error
}

// Observer is told about every submitted batch and how it ended. Calls are
// synchronous and must not block.
type Observer interface {
	Submitted(ctx context.Context, e Event)
	Resolved(ctx context.Context, e Event)
}

// Invalidator marks the list of pending transactions as stale so that
// whoever displays it refreshes. It is best effort.
type Invalidator interface {
	Invalidate(ctx context.Context, tag string) error
}

type nopObserver struct{}

func (nopObserver) Submitted(context.Context, Event) {}
func (nopObserver) Resolved(context.Context, Event)  {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (os Observers) Submitted(ctx context.Context, e Event) {
	for _, o := range os {
		o.Submitted(ctx, e)
	}
}

func (os Observers) Resolved(ctx context.Context, e Event) {
	for _, o := range os {
		o.Resolved(ctx, e)
	}
}
