package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openbuilders/batch-submitter/internal/api"
	"github.com/openbuilders/batch-submitter/internal/env"
	"github.com/openbuilders/batch-submitter/internal/log"
)

var (
	serverURL string
	jsonMode  bool
	noColor   bool
	logLevel  string
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batchctl",
		Short: "Submit and inspect Solana transaction batches",
		Long: `batchctl builds, approves, signs and submits batches of Solana
instructions, either locally or through a running batch-submitter.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Setup(logLevel)
			if noColor {
				color.NoColor = true
			}
		},
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server",
		env.GetString("BATCH_SERVER_URL", "http://localhost:8090"), "batch-submitter API URL")
	cmd.PersistentFlags().BoolVar(&jsonMode, "json", false, "print results as JSON")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level",
		env.GetString("LOG_LEVEL", "WARN"), "log level")

	cmd.AddCommand(
		NewSubmitCmd(),
		NewEnqueueCmd(),
		NewStatusCmd(),
		NewApprovalsCmd(),
		NewApproveCmd(true),
		NewApproveCmd(false),
	)

	return cmd
}

func serverClient() *api.Client {
	return api.NewClient(serverURL, 10*time.Second)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
