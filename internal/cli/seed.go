package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/lmsseed/internal/credential"
	"github.com/roach88/lmsseed/internal/fixture"
	"github.com/roach88/lmsseed/internal/journal"
	"github.com/roach88/lmsseed/internal/lms"
	"github.com/roach88/lmsseed/internal/remap"
	"github.com/roach88/lmsseed/internal/seed"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	SkipWait bool
	Verify   bool
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the LMS with the canonical dataset",
		Long: `Wait for the LMS to come up, then create every principal, course,
enrollment, assignment, submission and group in the dataset and force their
ids and tokens to the canonical values.

The run stops at the first failure and leaves the LMS partially seeded.

Example:
  lmsseed seed --data ./data
  lmsseed seed --config lmsseed.yaml --journal seed.db --verify`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.SkipWait, "skip-wait", false, "do not wait for the server to become ready")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "verify the backing store after seeding")

	return cmd
}

// seedSummary is the result of a seed run.
type seedSummary struct {
	RunID        string         `json:"run_id"`
	Server       string         `json:"server"`
	Counts       map[string]int `json:"counts"`
	Verification *seed.Report   `json:"verification,omitempty"`
}

func (s seedSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Seeded %s (run %s)\n", s.Server, s.RunID)
	for _, stage := range seed.Stages() {
		fmt.Fprintf(&b, "  %-20s %d\n", stage, s.Counts[stage])
	}
	if s.Verification != nil {
		fmt.Fprintf(&b, "Verification: %d checks, %d failed", len(s.Verification.Checks), len(s.Verification.Failed()))
	}
	return strings.TrimRight(b.String(), "\n")
}

func runSeed(opts *SeedOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	runID := opts.runID()
	f.RunID = runID
	logger := opts.newLogger(cmd.ErrOrStderr()).With("run_id", runID)

	cfg, err := opts.loadConfig()
	if err != nil {
		return fail(f, "failed to load configuration", err)
	}

	data, err := fixture.Load(cfg.DataDir)
	if err != nil {
		return fail(f, "failed to load fixtures", err)
	}
	logger.Info("fixtures loaded", "dir", cfg.DataDir,
		"principals", len(data.Principals), "courses", len(data.Courses), "submissions", len(data.Submissions))

	table, err := loadTokens(cfg)
	if err != nil {
		return fail(f, "failed to load token table", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec, err := opts.openStore(ctx, cfg, logger)
	if err != nil {
		return fail(f, "failed to open backing store", err)
	}
	defer func() {
		if closeErr := exec.Close(context.WithoutCancel(ctx)); closeErr != nil {
			logger.Error("error closing backing store", "error", closeErr)
		}
	}()

	if !opts.SkipWait {
		logger.Info("waiting for server", "server", cfg.BaseURL(), "attempts", cfg.ReadyAttempts)
		if err := opts.newGate(cfg, logger).WaitUntilReady(ctx, cfg.ReadyAttempts, cfg.ReadyInterval); err != nil {
			return fail(f, "server is not ready", err)
		}
	}

	var runWriter *journal.RunWriter
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return fail(f, "failed to open journal", err)
		}
		defer j.Close()
		if runWriter, err = j.BeginRun(ctx, runID, cfg.BaseURL()); err != nil {
			return fail(f, "failed to open journal", err)
		}
	}

	client := lms.NewClient(cfg.BaseURL(), cfg.APIBase, &http.Client{Timeout: cfg.RequestTimeout}, cfg.SettleDelay)
	client.Sleep = opts.sleeper()
	client.Logger = logger
	auth := lms.NewAuthenticator(cfg.BaseURL(), cfg.LoginPath, cfg.APIBase, cfg.RequestTimeout)
	auth.Logger = logger

	deps := seed.Deps{
		Auth:        auth,
		API:         client,
		Remap:       remap.New(exec, logger),
		Credentials: credential.NewNormalizer(exec, table, cfg.MissingToken, logger),
		Logger:      logger,
	}
	if runWriter != nil {
		deps.Recorder = runWriter
	}

	result, runErr := seed.New(deps, seed.OptionsFromConfig(cfg)).Run(ctx, data)
	if runWriter != nil {
		if err := runWriter.Finish(context.WithoutCancel(ctx), runErr); err != nil {
			logger.Error("error finishing journal run", "error", err)
		}
	}
	if runErr != nil {
		return fail(f, "seeding failed", runErr)
	}
	logger.Info("seeding complete")

	summary := seedSummary{RunID: runID, Server: cfg.BaseURL(), Counts: result.Counts}
	if opts.Verify {
		report, err := seed.NewVerifier(exec, table, logger).Verify(ctx, data)
		if err != nil {
			return fail(f, "verification failed", err)
		}
		summary.Verification = report
		if !report.OK() {
			_ = f.Success(summary)
			return NewExitError(ExitFailure, fmt.Sprintf("verification failed: %d of %d checks", len(report.Failed()), len(report.Checks)))
		}
	}

	return f.Success(summary)
}
