package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openbuilders/batch-submitter/internal/approval"
	"github.com/openbuilders/batch-submitter/internal/builder"
	svcerrors "github.com/openbuilders/batch-submitter/internal/errors"
	"github.com/openbuilders/batch-submitter/internal/poller"
	"github.com/openbuilders/batch-submitter/internal/submission"
	"github.com/openbuilders/batch-submitter/internal/types"
)

const invalidateTimeout = 5 * time.Second

type State string

const (
	StateBuilding         State = "building"
	StateCompiling        State = "compiling"
	StateAwaitingApproval State = "awaiting_approval"
	StateSigning          State = "signing"
	StateSubmitting       State = "submitting"
	StatePolling          State = "polling"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
)

// DraftBuilder partitions instructions into transaction drafts.
type DraftBuilder interface {
	Build(ctx context.Context, instructions types.Instructions,
		opts builder.Options) ([]*types.TransactionDraft, error)
}

// Codec compiles drafts into unsigned wire transactions, fetching a fresh
// blockhash, and attaches signatures of extra key pairs.
type Codec interface {
	Compile(ctx context.Context, drafts []*types.TransactionDraft) ([]*types.Transaction, error)
	Cosign(tx *types.Transaction, signer types.Keypair) error
}

// Signer is the gateway to the wallet key. SignAll returns the transactions
// in the same order and length, or an error when it declines.
type Signer interface {
	PublicKey() string
	SignAll(ctx context.Context, txs []*types.Transaction) ([]*types.Transaction, error)
}

type Config struct {
	// Origin is shown to the operator as the requesting URL.
	Origin string
	// MaxRetries is the default expiry retry budget. Nil means
	// DefaultMaxRetries and zero disables resigning.
	MaxRetries   *int
	PollInterval time.Duration
	MaxPollTime  time.Duration
	Commitment   string
}

type Dependencies struct {
	Builder     DraftBuilder
	Codec       Codec
	Gate        approval.Gate
	Signer      Signer
	Client      submission.Client
	Observer    Observer
	Invalidator Invalidator
}

// Request is one logical submission: the instructions plus everything the
// operator sees while approving it.
type Request struct {
	Instructions types.Instructions
	Build        builder.Options
	Tag          string
	Header       string
	Message      string
	Metadata     *types.Metadata
	// Parallel lets the backend land the transactions of a batch in any
	// order.
	Parallel bool
	// SuppressWarnings is passed through to the approval preview.
	SuppressWarnings bool
}

// Batch is a set of compiled transactions submitted under one batch id.
type Batch struct {
	Transactions []*types.Transaction
	Tag          string
	Metadata     *types.Metadata
	Parallel     bool
}

type Result struct {
	BatchID    string
	Signatures []string
	// Attempts is the number of submissions it took, 1 without resigns.
	Attempts int
}

type Manager struct {
	config     *Config
	maxRetries int
	deps       Dependencies
	poller     *poller.Poller
	log        *slog.Logger
}

func New(config *Config, deps Dependencies) *Manager {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}

	c := *config

	maxRetries := DefaultMaxRetries
	if c.MaxRetries != nil {
		maxRetries = max(*c.MaxRetries, 0)
	}

	return &Manager{
		config:     &c,
		maxRetries: maxRetries,
		deps:       deps,
		poller:     poller.New(&poller.Config{
			Interval:    c.PollInterval,
			MaxPollTime: c.MaxPollTime,
			Commitment:  c.Commitment,
		}, deps.Client),
		log: slog.With("component", "lifecycle"),
	}
}

// Execute runs the whole lifecycle: build, compile, approve once, then sign,
// submit and poll until the batch is confirmed or fails for good.
func (m *Manager) Execute(ctx context.Context, req *Request, opts ...Option) (*Result, error) {
	txs, err := m.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	return m.SubmitAndAwait(ctx, m.batch(req, txs), opts...)
}

// Submit builds, approves, signs and submits without waiting for the
// outcome. It returns the batch id.
func (m *Manager) Submit(ctx context.Context, req *Request) (string, error) {
	txs, err := m.Prepare(ctx, req)
	if err != nil {
		return "", err
	}

	batch := m.batch(req, txs)

	signed, serr := m.sign(ctx, batch.Tag, batch.Transactions)
	if serr != nil {
		return "", m.fail(batch.Tag, serr.WithBatch(batch.Tag, ""))
	}

	batchID, err := m.submit(ctx, batch, signed, 0)
	if err != nil {
		return "", m.fail(batch.Tag, err)
	}

	return batchID, nil
}

// Prepare builds and compiles the request and asks for approval. The
// returned transactions are unsigned.
func (m *Manager) Prepare(ctx context.Context, req *Request) ([]*types.Transaction, error) {
	m.transition(req.Tag, StateBuilding)

	drafts, err := m.deps.Builder.Build(ctx, req.Instructions, req.Build)
	if err != nil {
		return nil, m.fail(req.Tag, asServiceError(svcerrors.CodeBuild, err).WithBatch(req.Tag, ""))
	}

	m.transition(req.Tag, StateCompiling)

	txs, err := m.deps.Codec.Compile(ctx, drafts)
	if err != nil {
		return nil, m.fail(req.Tag, svcerrors.New(svcerrors.CodeBuild,
			fmt.Errorf("compile: %w", err)).WithBatch(req.Tag, ""))
	}

	m.transition(req.Tag, StateAwaitingApproval)

	if err := m.approve(ctx, req, txs); err != nil {
		return nil, m.fail(req.Tag, err)
	}

	return txs, nil
}

func (m *Manager) approve(ctx context.Context, req *Request, txs []*types.Transaction) error {
	serialized := make([][]byte, len(txs))
	for i, tx := range txs {
		serialized[i] = tx.Payload
	}

	preview := approval.SignAndSend{SignTransaction: approval.SignTransaction{
		URL:              m.config.Origin,
		Header:           req.Header,
		Message:          req.Message,
		SerializedTxs:    serialized,
		SuppressWarnings: req.SuppressWarnings,
	}}

	ok, err := m.deps.Gate.Show(ctx, preview)
	if err != nil || !ok {
		return svcerrors.New(svcerrors.CodeUserRejected, err).WithBatch(req.Tag, "")
	}

	return nil
}

// SubmitAndAwait signs, submits and polls already compiled transactions.
// No approval is requested. Expired batches are resigned while the retry
// budget lasts and a resign handler is available.
func (m *Manager) SubmitAndAwait(ctx context.Context, batch Batch, opts ...Option) (*Result, error) {
	o := applyOptions(m.maxRetries, opts)

	retry := &RetryContext{MaxRetries: o.maxRetries, Resign: o.resign}
	if retry.Resign == nil && o.recompile {
		retry.Resign = m.recompiler(batch.Transactions)
	}

	txs := batch.Transactions
	for {
		result, err := m.attempt(ctx, batch, txs, retry)
		if err != nil {
			return nil, m.fail(batch.Tag, err)
		}

		if result != nil {
			m.transition(batch.Tag, StateSucceeded)
			return result, nil
		}

		// The batch expired and may be resigned.
		fresh, err := retry.Resign(ctx)
		if err != nil {
			return nil, m.fail(batch.Tag, asServiceError(svcerrors.CodeBuild,
				fmt.Errorf("resign: %w", err)).WithBatch(batch.Tag, ""))
		}

		retry.Attempt++
		txs = fresh

		m.log.Info(
			"Resigning expired batch",
			"tag", batch.Tag,
			"attempt", retry.Attempt,
			"max_retries", retry.MaxRetries,
		)
	}
}

// attempt runs Signing, Submitting and Polling once. A nil result and a nil
// error mean the batch expired and a resign is allowed.
func (m *Manager) attempt(ctx context.Context, batch Batch, txs []*types.Transaction,
	retry *RetryContext) (*Result, error) {

	signed, serr := m.sign(ctx, batch.Tag, txs)
	if serr != nil {
		return nil, serr.WithBatch(batch.Tag, "")
	}

	batchID, err := m.submit(ctx, batch, signed, retry.Attempt)
	if err != nil {
		return nil, err
	}

	m.transition(batch.Tag, StatePolling)

	event := Event{
		Tag:          batch.Tag,
		BatchID:      batchID,
		Attempt:      retry.Attempt,
		Transactions: len(signed),
	}

	res, err := m.poller.PollForCompletion(ctx, batchID)
	if err != nil {
		var se svcerrors.ServiceError
		if errors.As(err, &se) {
			err = se.WithBatch(batch.Tag, batchID)
		}

		event.Status, event.Err = types.StatusUnknown, err
		m.deps.Observer.Resolved(ctx, event)

		return nil, err
	}

	event.Status, event.Signatures = res.Status, res.Signatures()

	var outcome error
	switch res.Status {
	case types.StatusConfirmed:
	case types.StatusFailed, types.StatusPartial:
		se := svcerrors.New(svcerrors.CodeTransactionFailed,
			fmt.Errorf("batch status %s", res.Status)).WithBatch(batch.Tag, batchID)
		se.Status, se.Signatures = res.Status, res.Signatures()
		outcome = se
	case types.StatusExpired:
		switch {
		case retry.Resign == nil:
			outcome = svcerrors.ErrExpiredNoResignHandler.WithBatch(batch.Tag, batchID)
		case retry.Exhausted():
			outcome = svcerrors.New(svcerrors.CodeMaxRetriesExceeded,
				fmt.Errorf("%d retries", retry.MaxRetries)).WithBatch(batch.Tag, batchID)
		}
	default:
		outcome = fmt.Errorf("unexpected batch status %q", res.Status)
	}

	event.Err = outcome
	m.deps.Observer.Resolved(ctx, event)

	if outcome != nil {
		return nil, outcome
	}

	if res.Status == types.StatusExpired {
		return nil, nil
	}

	return &Result{
		BatchID:    batchID,
		Signatures: res.Signatures(),
		Attempts:   retry.Attempt + 1,
	}, nil
}

// sign asks the wallet for its signatures, then co-signs with every extra
// key pair the draft requires.
func (m *Manager) sign(ctx context.Context, tag string, txs []*types.Transaction) (
	[]*types.Transaction, *svcerrors.ServiceError) {

	m.transition(tag, StateSigning)

	clones := make([]*types.Transaction, len(txs))
	for i, tx := range txs {
		clones[i] = tx.Clone()
	}

	signed, err := m.deps.Signer.SignAll(ctx, clones)
	if err != nil {
		se := svcerrors.New(svcerrors.CodeSign, err)
		return nil, &se
	}

	if len(signed) != len(txs) {
		se := svcerrors.New(svcerrors.CodeSign,
			fmt.Errorf("signer returned %d of %d transactions", len(signed), len(txs)))
		return nil, &se
	}

	for i, tx := range signed {
		if tx.Draft == nil {
			continue
		}

		for _, kp := range tx.Draft.ExtraSigners {
			if !tx.Draft.Requires(kp.PublicKey()) || tx.IsSignedBy(kp.PublicKey()) {
				continue
			}

			if err := m.deps.Codec.Cosign(tx, kp); err != nil {
				se := svcerrors.New(svcerrors.CodeSign,
					fmt.Errorf("co-sign tx %d with %s: %w", i, kp.PublicKey(), err))
				return nil, &se
			}
		}

		if missing := tx.MissingSigners(); len(missing) > 0 {
			se := svcerrors.New(svcerrors.CodeSign,
				fmt.Errorf("tx %d is missing signatures of %v", i, missing))
			return nil, &se
		}
	}

	return signed, nil
}

func (m *Manager) submit(ctx context.Context, batch Batch, signed []*types.Transaction,
	attempt int) (string, error) {

	m.transition(batch.Tag, StateSubmitting)

	body := types.NewBatchSubmission(signed, batch.Parallel, batch.Tag, batch.Metadata)

	batchID, err := m.deps.Client.Submit(ctx, body)
	if err != nil {
		return "", svcerrors.New(svcerrors.CodeSubmit, err).WithBatch(batch.Tag, "")
	}

	m.log.Info(
		"Batch submitted",
		"tag", batch.Tag,
		"batch_id", batchID,
		"transactions", len(signed),
		"attempt", attempt,
	)

	m.deps.Observer.Submitted(ctx, Event{
		Tag:          batch.Tag,
		BatchID:      batchID,
		Attempt:      attempt,
		Transactions: len(signed),
		Status:       types.StatusPending,
	})

	m.invalidate(ctx, batch.Tag)

	return batchID, nil
}

// invalidate notifies the pending-list watchers without waiting for it.
func (m *Manager) invalidate(ctx context.Context, tag string) {
	if m.deps.Invalidator == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
		defer cancel()

		if err := m.deps.Invalidator.Invalidate(ctx, tag); err != nil {
			m.log.Warn("Couldn't invalidate pending transactions", "tag", tag, "error", err)
		}
	}()
}

func (m *Manager) recompiler(txs []*types.Transaction) ResignFunc {
	drafts := make([]*types.TransactionDraft, len(txs))
	for i, tx := range txs {
		drafts[i] = tx.Draft
	}

	return func(ctx context.Context) ([]*types.Transaction, error) {
		for _, d := range drafts {
			if d == nil {
				return nil, errors.New("transaction has no draft to recompile")
			}
		}

		return m.deps.Codec.Compile(ctx, drafts)
	}
}

func (m *Manager) batch(req *Request, txs []*types.Transaction) Batch {
	return Batch{
		Transactions: txs,
		Tag:          req.Tag,
		Metadata:     req.Metadata,
		Parallel:     req.Parallel,
	}
}

func (m *Manager) transition(tag string, state State) {
	m.log.Debug("State transition", "tag", tag, "state", state)
}

func (m *Manager) fail(tag string, err error) error {
	if svcerrors.IsQuiet(err) {
		m.log.Info("Submission cancelled", "tag", tag, "error", err)
	} else {
		m.log.Error("Submission failed", "tag", tag, "state", StateFailed, "error", err)
	}

	return err
}

// asServiceError keeps an existing ServiceError and wraps anything else
// under code.
func asServiceError(code svcerrors.ErrorCode, err error) svcerrors.ServiceError {
	var se svcerrors.ServiceError
	if errors.As(err, &se) {
		return se
	}

	return svcerrors.New(code, err)
}
