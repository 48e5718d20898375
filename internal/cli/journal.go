package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lmsseed/internal/journal"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	RunID string
	List  bool
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show what a seeding run created",
		Long: `Print the entities recorded by a seeding run: the id the LMS assigned
and the canonical id it was moved to. Defaults to the latest run.

Example:
  lmsseed journal --journal seed.db
  lmsseed journal --journal seed.db --run 0192b8c4-...
  lmsseed journal --journal seed.db --list`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (default: latest run)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list runs instead of entries")

	return cmd
}

type runListing []journal.Run

func (l runListing) String() string {
	var b strings.Builder
	for _, r := range l {
		fmt.Fprintf(&b, "%s %-9s %s %s", r.ID, r.Status, r.StartedAt.Format(time.RFC3339), r.Server)
		if r.Error != "" {
			fmt.Fprintf(&b, " (%s)", r.Error)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

type runEntries struct {
	Run     journal.Run     `json:"run"`
	Entries []journal.Entry `json:"entries"`
}

func (r runEntries) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s) against %s\n", r.Run.ID, r.Run.Status, r.Run.Server)
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "%4d %-20s %-10s %-30s %d -> %d\n", e.Seq, e.Stage, e.Kind, e.Name, e.RemoteID, e.CanonicalID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func runJournal(opts *JournalOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	opts.newLogger(cmd.ErrOrStderr())

	cfg, err := opts.loadConfig()
	if err != nil {
		return fail(f, "failed to load configuration", err)
	}
	if cfg.JournalPath == "" {
		return fail(f, "no journal", fmt.Errorf("%w: journalPath is not set", errInvalidConfig))
	}

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return fail(f, "failed to open journal", err)
	}
	defer j.Close()

	ctx := cmd.Context()
	if opts.List {
		runs, err := j.Runs(ctx)
		if err != nil {
			return fail(f, "failed to read journal", err)
		}
		return f.Success(runListing(runs))
	}

	var run journal.Run
	if opts.RunID != "" {
		run, err = j.Run(ctx, opts.RunID)
	} else {
		run, err = j.LatestRun(ctx)
	}
	if errors.Is(err, journal.ErrNoRuns) {
		return fail(f, "journal is empty", err)
	}
	if err != nil {
		return fail(f, "failed to read journal", err)
	}

	entries, err := j.Entries(ctx, run.ID)
	if err != nil {
		return fail(f, "failed to read journal", err)
	}
	return f.Success(runEntries{Run: run, Entries: entries})
}
