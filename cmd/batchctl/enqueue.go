package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewEnqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <job.json>",
		Short: "Hand a job to a running batch-submitter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := readJob(args[0])
			if err != nil {
				return err
			}

			id, err := serverClient().EnqueueJob(cmd.Context(), job)
			if err != nil {
				return err
			}

			if jsonMode {
				return printJSON(map[string]string{"job_id": id.String()})
			}

			fmt.Printf("Job %s queued\n", id)
			return nil
		},
	}
}
