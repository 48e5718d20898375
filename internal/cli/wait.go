package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewWaitCommand creates the wait command.
func NewWaitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "wait",
		Short: "Wait until the LMS answers",
		Long: `Probe the LMS root until it answers with a success status, giving up
after the configured number of attempts.

Example:
  lmsseed wait --server http://127.0.0.1:3000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			logger := opts.newLogger(cmd.ErrOrStderr())

			cfg, err := opts.loadConfig()
			if err != nil {
				return fail(f, "failed to load configuration", err)
			}
			if err := opts.newGate(cfg, logger).WaitUntilReady(cmd.Context(), cfg.ReadyAttempts, cfg.ReadyInterval); err != nil {
				return fail(f, "server is not ready", err)
			}
			return f.Success(fmt.Sprintf("Server %s is ready", cfg.BaseURL()))
		},
	}
}
