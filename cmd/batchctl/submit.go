package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openbuilders/batch-submitter/internal/approval"
	"github.com/openbuilders/batch-submitter/internal/builder"
	"github.com/openbuilders/batch-submitter/internal/coordinator"
	"github.com/openbuilders/batch-submitter/internal/env"
	"github.com/openbuilders/batch-submitter/internal/intake"
	"github.com/openbuilders/batch-submitter/internal/lifecycle"
	"github.com/openbuilders/batch-submitter/internal/sender"
	"github.com/openbuilders/batch-submitter/internal/solana"
	"github.com/openbuilders/batch-submitter/internal/submission"
	"github.com/openbuilders/batch-submitter/internal/types"
)

type submitOptions struct {
	rpcURL       string
	cluster      string
	wallet       string
	backend      string
	apiURL       string
	commitment   string
	lookupTable  string
	chunkSize    int
	maxPollTime  time.Duration
	baseFee      uint64
	skipApproval bool
}

func NewSubmitCmd() *cobra.Command {
	opts := &submitOptions{}

	cmd := &cobra.Command{
		Use:   "submit <job.json>",
		Short: "Build, approve, sign and submit a job from this machine",
		Long: `Submit runs a job file through the whole batch lifecycle locally. The
transactions are shown for approval in the terminal before the wallet signs
them.

Examples:
  # Submit through the cluster RPC node
  batchctl submit airdrop.json --wallet ~/.config/solana/id.json

  # Submit through a remote execution API, 20 transactions per batch
  batchctl submit airdrop.json --backend http --api-url https://tx.example.com --chunk-size 20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.rpcURL, "rpc-url",
		env.GetString("SOLANA_RPC_URL", "https://api.devnet.solana.com"), "Solana RPC URL")
	cmd.Flags().StringVar(&opts.cluster, "cluster",
		env.GetString("SOLANA_CLUSTER", solana.ClusterDevnet), "mainnet-beta or devnet")
	cmd.Flags().StringVar(&opts.wallet, "wallet",
		env.GetString("WALLET_PRIVATE_KEY", ""), "wallet key, base58 or keygen file")
	cmd.Flags().StringVar(&opts.backend, "backend", "rpc", "submission backend: rpc or http")
	cmd.Flags().StringVar(&opts.apiURL, "api-url",
		env.GetString("SUBMISSION_API_URL", ""), "remote execution API URL")
	cmd.Flags().StringVar(&opts.commitment, "commitment", "confirmed", "commitment to wait for")
	cmd.Flags().StringVar(&opts.lookupTable, "lookup-table", "",
		"address lookup table used when the job names none")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "transactions per batch, 0 keeps the job's")
	cmd.Flags().DurationVar(&opts.maxPollTime, "max-poll-time", 60*time.Second,
		"how long to wait for a batch")
	cmd.Flags().Uint64Var(&opts.baseFee, "base-priority-fee", 1,
		"lowest priority fee in micro-lamports per compute unit")
	cmd.Flags().BoolVarP(&opts.skipApproval, "yes", "y", false, "approve without asking")

	return cmd
}

func runSubmit(ctx context.Context, opts *submitOptions, path string) error {
	job, err := readJob(path)
	if err != nil {
		return err
	}

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	key, err := solana.LoadPrivateKey(opts.wallet)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	rpcClient := rpc.New(opts.rpcURL)
	defer rpcClient.Close()

	wallet := solana.NewWallet(key)

	var client submission.Client
	switch opts.backend {
	case "http":
		if opts.apiURL == "" {
			return fmt.Errorf("--api-url is required for the http backend")
		}
		client = submission.NewHTTPClient(&submission.HTTPConfig{BaseURL: opts.apiURL})
	case "rpc":
		client = solana.NewSubmitter(&solana.SubmitterConfig{}, rpcClient)
	default:
		return fmt.Errorf("unknown backend %q", opts.backend)
	}

	var gate approval.Gate = approval.NewPrompt()
	if opts.skipApproval {
		gate = approval.AutoApprove
	}

	manager := lifecycle.New(&lifecycle.Config{
		Origin:      "batchctl",
		MaxPollTime: opts.maxPollTime,
		Commitment:  opts.commitment,
	}, lifecycle.Dependencies{
		Builder: builder.New(solana.NewFeeEstimator(rpcClient)),
		Codec: solana.NewCompiler(&solana.CompilerConfig{Payer: wallet.Address()},
			rpcClient, solana.NewLookupResolver(rpcClient)),
		Gate:     gate,
		Signer:   wallet,
		Client:   client,
		Observer: progressPrinter{},
	})

	base := builder.Options{BasePriorityFee: opts.baseFee}
	if opts.lookupTable != "" {
		base.LookupTables = []string{opts.lookupTable}
	}

	req := sender.NewRequest(*job, base)
	req.OnProgress = func(s coordinator.Status) {
		fmt.Printf("  %d transactions confirmed (%d/%d in this batch)\n",
			s.TotalProgress, s.CurrentBatchProgress, s.CurrentBatchSize)
	}

	chunkSize := job.ChunkSize
	if opts.chunkSize > 0 {
		chunkSize = opts.chunkSize
	}

	fmt.Printf("Submitting %s as %s on %s\n", color.CyanString(job.Tag),
		wallet.PublicKey(), opts.cluster)

	result, err := coordinator.New(manager).SubmitChunked(ctx, req, chunkSize)

	return printOutcome(sender.Outcome(*job, result, err))
}

func readJob(path string) (*types.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", path, err)
	}

	if err := intake.Validate(&job); err != nil {
		return nil, err
	}

	return &job, nil
}

type progressPrinter struct{}

func (progressPrinter) Submitted(_ context.Context, e lifecycle.Event) {
	fmt.Printf("Submitted batch %s: %d transactions, attempt %d\n",
		e.BatchID, e.Transactions, e.Attempt)
}

func (progressPrinter) Resolved(_ context.Context, e lifecycle.Event) {
	if e.Err != nil {
		fmt.Printf("Batch %s %s: %v\n", e.BatchID, color.RedString(string(e.Status)), e.Err)
		return
	}

	fmt.Printf("Batch %s %s\n", e.BatchID, color.GreenString(string(e.Status)))
}

func printOutcome(out types.JobResult) error {
	if jsonMode {
		if err := printJSON(out); err != nil {
			return err
		}
	} else {
		fmt.Println()
		fmt.Printf("Status:     %s\n", statusString(out.Status))
		if out.BatchID != "" {
			fmt.Printf("Batch:      %s\n", out.BatchID)
		}
		for _, sig := range out.Signatures {
			fmt.Printf("Signature:  %s\n", sig)
		}
		if out.Error != "" {
			fmt.Printf("Error:      %s (%s)\n", out.Error, out.ErrorCode)
		}
	}

	if out.Status != types.StatusConfirmed {
		return fmt.Errorf("job ended %s", out.Status)
	}

	return nil
}

func statusString(s types.BatchStatus) string {
	switch s {
	case types.StatusConfirmed:
		return color.GreenString(string(s))
	case types.StatusPending, types.StatusUnknown:
		return color.YellowString(string(s))
	case types.StatusPartial:
		return color.CyanString(string(s))
	default:
		return color.RedString(string(s))
	}
}
