package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func NewApprovalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approvals",
		Short: "List requests waiting for an operator decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, err := serverClient().PendingApprovals(cmd.Context())
			if err != nil {
				return err
			}

			if jsonMode {
				return printJSON(pending)
			}

			if len(pending) == 0 {
				fmt.Println("Nothing is waiting for approval.")
				return nil
			}

			for _, p := range pending {
				fmt.Printf("%s  %s  %s\n", color.CyanString(p.ID.String()),
					p.CreatedAt.Format("15:04:05"), p.Summary)
			}
			return nil
		},
	}
}

// NewApproveCmd returns the approve command, or the reject command when
// approved is false.
func NewApproveCmd(approved bool) *cobra.Command {
	use, short := "approve <id>", "Approve a pending request"
	if !approved {
		use, short = "reject <id>", "Reject a pending request"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid request id: %w", err)
			}

			if err := serverClient().Resolve(cmd.Context(), id, approved); err != nil {
				return err
			}

			if approved {
				fmt.Printf("Request %s %s\n", id, color.GreenString("approved"))
			} else {
				fmt.Printf("Request %s %s\n", id, color.RedString("rejected"))
			}
			return nil
		},
	}
}
