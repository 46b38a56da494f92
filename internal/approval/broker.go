package approval

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownRequest = errors.New("no pending approval with this id")

// PendingRequest is a decision waiting for an operator.
type PendingRequest struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	Summary   string    `json:"summary"`
	Request   Request   `json:"request"`
	CreatedAt time.Time `json:"created_at"`
}

type pending struct {
	PendingRequest
	decision chan bool
}

type BrokerConfig struct {
	// MaxInFlight limits how many requests are presented at once. Requests
	// beyond the limit wait in line for a slot. Zero means unlimited.
	MaxInFlight int
}

// Broker is a request/response channel between the pipeline and an
// operator that answers out of band (e.g. over the HTTP API). Every Show
// call gets its own correlation id.
type Broker struct {
	config *BrokerConfig

	mu      sync.Mutex
	pending map[uuid.UUID]*pending
	slots   chan struct{}

	log *slog.Logger
}

func NewBroker(config *BrokerConfig) *Broker {
	b := &Broker{
		config:  config,
		pending: make(map[uuid.UUID]*pending),
		log:     slog.With("component", "approval"),
	}

	if config.MaxInFlight > 0 {
		b.slots = make(chan struct{}, config.MaxInFlight)
	}

	return b
}

func (b *Broker) Show(ctx context.Context, req Request) (bool, error) {
	if b.slots != nil {
		select {
		case b.slots <- struct{}{}:
			defer func() { <-b.slots }()
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	p := &pending{
		PendingRequest: PendingRequest{
			ID:        uuid.New(),
			Kind:      req.Kind(),
			Summary:   Summary(req),
			Request:   req,
			CreatedAt: time.Now(),
		},
		decision: make(chan bool, 1),
	}

	b.mu.Lock()
	b.pending[p.ID] = p
	b.mu.Unlock()

	b.log.Info("Awaiting approval", "id", p.ID, "kind", p.Kind, "summary", p.Summary)

	select {
	case approved := <-p.decision:
		b.log.Info("Approval resolved", "id", p.ID, "approved", approved)
		return approved, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, p.ID)
		b.mu.Unlock()

		b.log.Info("Approval abandoned", "id", p.ID, "error", ctx.Err())
		return false, ctx.Err()
	}
}

// Resolve delivers the operator's decision for the request with the given id.
func (b *Broker) Resolve(id uuid.UUID, approved bool) error {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		return ErrUnknownRequest
	}

	p.decision <- approved

	return nil
}

// Pending lists the requests awaiting a decision, oldest first.
func (b *Broker) Pending() []PendingRequest {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := make([]PendingRequest, 0, len(b.pending))
	for _, p := range b.pending {
		list = append(list, p.PendingRequest)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})

	return list
}
