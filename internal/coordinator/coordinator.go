package coordinator

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	svcerrors "github.com/openbuilders/batch-submitter/internal/errors"
	"github.com/openbuilders/batch-submitter/internal/lifecycle"
	"github.com/openbuilders/batch-submitter/internal/types"
)

// Runner is the part of the lifecycle manager the coordinator drives.
type Runner interface {
	Prepare(ctx context.Context, req *lifecycle.Request) ([]*types.Transaction, error)
	SubmitAndAwait(ctx context.Context, batch lifecycle.Batch,
		opts ...lifecycle.Option) (*lifecycle.Result, error)
}

// Status is reported after every finished chunk. Progress values count
// transactions.
type Status struct {
	TotalProgress        int
	CurrentBatchProgress int
	CurrentBatchSize     int
}

type Request struct {
	lifecycle.Request
	// Sequential confirms chunk i before chunk i+1 is signed. Use it when
	// later transactions depend on state created by earlier ones.
	Sequential bool
	// Options apply to every chunk. Expired chunks are always recompiled on
	// their own, so a WithResign handler here has no effect.
	Options    []lifecycle.Option
	OnProgress func(Status)
}

type ChunkResult struct {
	Index      int
	BatchID    string
	Signatures []string
	Err        error
}

type Result struct {
	// BatchID is the batch of the last chunk by position, not by
	// completion time.
	BatchID string
	Chunks  []ChunkResult
}

// Signatures returns the signatures of all confirmed chunks in chunk order.
func (r *Result) Signatures() []string {
	var out []string
	for _, c := range r.Chunks {
		out = append(out, c.Signatures...)
	}

	return out
}

type chunkKey struct{}

// ChunkIndex returns the index of the chunk a SubmitAndAwait call runs
// for, or zero outside the coordinator.
func ChunkIndex(ctx context.Context) int {
	i, _ := ctx.Value(chunkKey{}).(int)
	return i
}

type Coordinator struct {
	runner Runner
	log    *slog.Logger
}

func New(runner Runner) *Coordinator {
	return &Coordinator{
		runner: runner,
		log:    slog.With("component", "coordinator"),
	}
}

// SubmitChunked approves the whole request once, then submits its
// transactions in batches of at most chunkSize. Chunks resign by recompiling
// their drafts. On failure the partial Result is returned along with the
// error.
func (c *Coordinator) SubmitChunked(ctx context.Context, req *Request, chunkSize int) (
	*Result, error) {

	lr := req.Request
	lr.Parallel = !req.Sequential
	lr.SuppressWarnings = lr.SuppressWarnings || req.Sequential

	txs, err := c.runner.Prepare(ctx, &lr)
	if err != nil {
		return nil, err
	}

	if chunkSize <= 0 {
		chunkSize = len(txs)
	}

	chunks := split(txs, chunkSize)
	result := &Result{Chunks: make([]ChunkResult, len(chunks))}
	for i := range chunks {
		result.Chunks[i].Index = i
	}

	c.log.Info(
		"Submitting chunks",
		"tag", lr.Tag,
		"transactions", len(txs),
		"chunks", len(chunks),
		"sequential", req.Sequential,
	)

	prog := &progress{report: req.OnProgress}

	if req.Sequential || len(chunks) == 1 {
		err = c.sequential(ctx, req, &lr, chunks, result, prog)
	} else {
		err = c.concurrent(ctx, req, &lr, chunks, result, prog)
	}

	if len(chunks) > 0 {
		result.BatchID = result.Chunks[len(chunks)-1].BatchID
	}

	if err != nil {
		if len(chunks) == 1 {
			// A single batch fails like a plain lifecycle run.
			return result, result.Chunks[0].Err
		}

		return result, err
	}

	return result, nil
}

func (c *Coordinator) sequential(ctx context.Context, req *Request, lr *lifecycle.Request,
	chunks [][]*types.Transaction, result *Result, p *progress) error {

	for i, chunk := range chunks {
		if err := c.run(ctx, req, lr, i, chunk, result, p); err != nil {
			c.log.Warn(
				"Chunk failed, skipping the rest",
				"tag", lr.Tag,
				"chunk", i,
				"skipped", len(chunks)-i-1,
			)

			return err
		}
	}

	return nil
}

// concurrent runs every chunk at once. A failing chunk never cancels its
// siblings; the first error by completion order is returned.
func (c *Coordinator) concurrent(ctx context.Context, req *Request, lr *lifecycle.Request,
	chunks [][]*types.Transaction, result *Result, p *progress) error {

	var g errgroup.Group
	for i, chunk := range chunks {
		g.Go(func() error {
			return c.run(ctx, req, lr, i, chunk, result, p)
		})
	}

	return g.Wait()
}

// run drives one chunk and records its outcome in result.Chunks[i].
func (c *Coordinator) run(ctx context.Context, req *Request, lr *lifecycle.Request, i int,
	chunk []*types.Transaction, result *Result, p *progress) error {

	opts := append(slices.Clone(req.Options), lifecycle.WithRecompileOnExpiry())

	ctx = context.WithValue(ctx, chunkKey{}, i)
	res, err := c.runner.SubmitAndAwait(ctx, lifecycle.Batch{
		Transactions: chunk,
		Tag:          lr.Tag,
		Metadata:     lr.Metadata,
		Parallel:     lr.Parallel,
	}, opts...)

	// Each goroutine writes its own element.
	cr := &result.Chunks[i]
	if err != nil {
		cr.Err = err
		code, _ := svcerrors.CodeOf(err)
		c.log.Error("Chunk failed", "tag", lr.Tag, "chunk", i, "code", code, "error", err)

		return svcerrors.ChunkError{Index: i, Err: err}
	}

	cr.BatchID = res.BatchID
	cr.Signatures = res.Signatures

	p.done(len(chunk))

	return nil
}

type progress struct {
	mu     sync.Mutex
	total  int
	report func(Status)
}

func (p *progress) done(size int) {
	if p.report == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.total += size
	p.report(Status{
		TotalProgress:        p.total,
		CurrentBatchProgress: size,
		CurrentBatchSize:     size,
	})
}

func split(txs []*types.Transaction, size int) [][]*types.Transaction {
	var chunks [][]*types.Transaction
	for start := 0; start < len(txs); start += size {
		chunks = append(chunks, txs[start:min(start+size, len(txs))])
	}

	return chunks
}
