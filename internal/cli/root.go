package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/lmsseed/internal/backing"
	"github.com/roach88/lmsseed/internal/config"
	"github.com/roach88/lmsseed/internal/credential"
	"github.com/roach88/lmsseed/internal/lms"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	ConfigPath   string
	Server       string
	DataDir      string
	TokensFile   string
	JournalPath  string
	MissingToken string

	// RunIDs overrides the run id source (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs RunIDGenerator

	// OpenStore overrides how the backing store is reached (for testing).
	// If nil, defaults to backing.Open.
	OpenStore func(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (backing.Executor, error)

	// Sleep overrides readiness and settle pauses (for testing).
	Sleep lms.Sleeper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the lmsseed CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lmsseed",
		Short: "lmsseed - canonical LMS test data",
		Long: `Seed a freshly started LMS with a canonical dataset.

Principals, courses, enrollments, assignments, submissions and groups are
created through the REST API, then their ids, timestamps and API tokens are
rewritten in the backing store so every seeded instance is identical.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	flags.StringVar(&opts.Server, "server", "", "LMS base URL (overrides config)")
	flags.StringVar(&opts.DataDir, "data", "", "fixture directory (overrides config)")
	flags.StringVar(&opts.TokensFile, "tokens", "", "canonical token table file (overrides config)")
	flags.StringVar(&opts.JournalPath, "journal", "", "run journal path (overrides config)")
	flags.StringVar(&opts.MissingToken, "missing-token", "", "policy for principals without a canonical token (fail|skip)")

	// Add subcommands
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewWaitCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewTokensCommand(opts))
	cmd.AddCommand(NewJournalCommand(opts))

	return cmd
}

// loadConfig layers the command-line overrides on top of the file and
// environment configuration.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}

	overrides := []struct {
		flag  string
		field *string
	}{
		{o.Server, &cfg.Server},
		{o.DataDir, &cfg.DataDir},
		{o.TokensFile, &cfg.TokensFile},
		{o.JournalPath, &cfg.JournalPath},
	}
	for _, ov := range overrides {
		if ov.flag != "" {
			*ov.field = ov.flag
		}
	}
	if o.MissingToken != "" {
		cfg.MissingToken = config.MissingTokenPolicy(o.MissingToken)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	return cfg, nil
}

// newLogger installs a text logger on w as the process default. --verbose
// selects debug level.
func (o *RootOptions) newLogger(w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if o.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (backing.Executor, error) {
	open := o.OpenStore
	if open == nil {
		open = backing.Open
	}
	return open(ctx, cfg.Store, logger)
}

func (o *RootOptions) sleeper() lms.Sleeper {
	if o.Sleep != nil {
		return o.Sleep
	}
	return lms.Sleep
}

// newGate builds the readiness gate for cfg.
func (o *RootOptions) newGate(cfg *config.Config, logger *slog.Logger) *lms.Gate {
	gate := lms.NewGate(cfg.BaseURL()+"/", &http.Client{Timeout: cfg.RequestTimeout})
	gate.Sleep = o.sleeper()
	gate.Logger = logger
	return gate
}

// fail reports err in JSON mode and returns it with the exit code of its
// category. In text mode main prints the error.
func fail(f *OutputFormatter, message string, err error) error {
	exitErr := classify(message, err)
	if f.Format == "json" {
		_ = f.Error(exitErr, nil)
	}
	return exitErr
}

// loadTokens reads the configured token table. Any failure, including an
// unreadable file, is a configuration error.
func loadTokens(cfg *config.Config) (*credential.Table, error) {
	table, err := credential.Load(cfg.TokensFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	return table, nil
}
