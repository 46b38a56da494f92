package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openbuilders/batch-submitter/internal/env"
	"github.com/openbuilders/batch-submitter/internal/poller"
	"github.com/openbuilders/batch-submitter/internal/submission"
	"github.com/openbuilders/batch-submitter/internal/types"
)

func NewStatusCmd() *cobra.Command {
	var (
		apiURL     string
		commitment string
		wait       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show the status of a batch",
		Long: `Status looks a batch up in the ledger of a running batch-submitter. With
--api-url the remote execution API is asked directly instead, and --wait
polls it until the batch reaches a final status.

Examples:
  batchctl status 3f1c...
  batchctl status 3f1c... --api-url https://tx.example.com --wait 2m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID := args[0]

			if apiURL == "" {
				batch, err := serverClient().Batch(cmd.Context(), batchID)
				if err != nil {
					return err
				}

				if jsonMode {
					return printJSON(batch)
				}

				fmt.Printf("Batch:      %s\n", batch.ID)
				fmt.Printf("Job:        %s\n", batch.JobID)
				fmt.Printf("Tag:        %s\n", batch.Tag)
				fmt.Printf("Chunk:      %d, attempt %d\n", batch.ChunkIndex, batch.Attempt)
				fmt.Printf("Status:     %s\n", statusString(batch.Status))
				for _, sig := range batch.Signatures {
					fmt.Printf("Signature:  %s\n", sig)
				}
				return nil
			}

			client := submission.NewHTTPClient(&submission.HTTPConfig{BaseURL: apiURL})

			var (
				result *types.BatchResult
				err    error
			)
			if wait > 0 {
				result, err = poller.New(&poller.Config{
					MaxPollTime: wait,
					Commitment:  commitment,
				}, client).PollForCompletion(cmd.Context(), batchID)
			} else {
				result, err = client.Get(cmd.Context(), batchID, commitment)
			}
			if err != nil {
				return err
			}

			if jsonMode {
				return printJSON(result)
			}

			fmt.Printf("Status:     %s\n", statusString(result.Status))
			for _, sig := range result.Signatures() {
				fmt.Printf("Signature:  %s\n", sig)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "api-url", env.GetString("SUBMISSION_API_URL", ""),
		"ask the remote execution API instead of the server")
	cmd.Flags().StringVar(&commitment, "commitment", "confirmed", "commitment to report")
	cmd.Flags().DurationVar(&wait, "wait", 0, "poll until final or this much time passed")

	return cmd
}
