package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lmsseed/internal/fixture"
	"github.com/roach88/lmsseed/internal/seed"
)

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the backing store against the dataset",
		Long: `Query the backing store for every canonical id, pinned submission
timestamp and canonical token digest in the dataset. Exits 1 when any check
fails.

Example:
  lmsseed verify --data ./data`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}
}

type verifyReport struct {
	*seed.Report
}

func (r verifyReport) String() string {
	var b strings.Builder
	for _, c := range r.Checks {
		mark := "ok  "
		if !c.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(&b, "%s %-10s %s\n", mark, c.Kind, c.Name)
	}
	fmt.Fprintf(&b, "%d checks, %d failed", len(r.Checks), len(r.Failed()))
	return b.String()
}

func runVerify(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	logger := opts.newLogger(cmd.ErrOrStderr())

	cfg, err := opts.loadConfig()
	if err != nil {
		return fail(f, "failed to load configuration", err)
	}
	data, err := fixture.Load(cfg.DataDir)
	if err != nil {
		return fail(f, "failed to load fixtures", err)
	}
	table, err := loadTokens(cfg)
	if err != nil {
		return fail(f, "failed to load token table", err)
	}

	ctx := cmd.Context()
	exec, err := opts.openStore(ctx, cfg, logger)
	if err != nil {
		return fail(f, "failed to open backing store", err)
	}
	defer func() {
		if closeErr := exec.Close(context.WithoutCancel(ctx)); closeErr != nil {
			logger.Error("error closing backing store", "error", closeErr)
		}
	}()

	report, err := seed.NewVerifier(exec, table, logger).Verify(ctx, data)
	if err != nil {
		return fail(f, "verification failed", err)
	}
	if err := f.Success(verifyReport{report}); err != nil {
		return err
	}
	if !report.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("verification failed: %d of %d checks", len(report.Failed()), len(report.Checks)))
	}
	return nil
}
