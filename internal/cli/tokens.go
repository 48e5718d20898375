package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lmsseed/internal/credential"
)

// NewTokensCommand creates the tokens command.
func NewTokensCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tokens",
		Short: "Print the canonical API tokens",
		Long: `Print the canonical token table: the API token every seeded principal
can use. The embedded table is used unless --tokens names another file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			opts.newLogger(cmd.ErrOrStderr())

			cfg, err := opts.loadConfig()
			if err != nil {
				return fail(f, "failed to load configuration", err)
			}
			table, err := loadTokens(cfg)
			if err != nil {
				return fail(f, "failed to load token table", err)
			}
			return f.Success(tokenList(table))
		},
	}
}

type tokenEntry struct {
	Name      string `json:"name"`
	Hint      string `json:"token_hint"`
	Cleartext string `json:"cleartext"`
}

type tokenListing []tokenEntry

func tokenList(table *credential.Table) tokenListing {
	var out tokenListing
	for _, name := range table.Names() {
		tok, _ := table.Lookup(name)
		out = append(out, tokenEntry{Name: name, Hint: tok.TokenHint, Cleartext: tok.Cleartext})
	}
	return out
}

func (l tokenListing) String() string {
	var b strings.Builder
	for _, e := range l {
		fmt.Fprintf(&b, "%-16s %s %s\n", e.Name, e.Hint, e.Cleartext)
	}
	return strings.TrimRight(b.String(), "\n")
}
