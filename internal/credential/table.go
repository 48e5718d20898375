// Package credential pins every principal's API token to a canonical value.
//
// The LMS mints a random token per login. After seeding, the Normalizer
// overwrites the stored digests with entries from a CUE token table so
// anyone using the seeded image can rely on fixed credentials. The default
// table is embedded; a replacement file (CUE or JSON) is validated against
// the same schema.
package credential

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaSource []byte

//go:embed tokens.cue
var defaultTokens []byte

// Token is one principal's canonical token. Only the digests and the hint
// are written to the store; Cleartext is what API callers present.
type Token struct {
	Cleartext           string `json:"cleartext"`
	TokenHint           string `json:"token_hint"`
	CryptedToken        string `json:"crypted_token"`
	CryptedRefreshToken string `json:"crypted_refresh_token"`
}

// Table maps principal names to canonical tokens.
type Table struct {
	tokens map[string]Token
}

// TableError reports an invalid token table, with the CUE position when
// one is known.
type TableError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *TableError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the embedded token table.
func Default() (*Table, error) {
	return parse("tokens.cue", defaultTokens)
}

// Load reads a token table from path. An empty path selects the default.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token table: %w", err)
	}
	return parse(path, src)
}

func parse(filename string, src []byte) (*Table, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	data := ctx.CompileBytes(src, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	if !data.LookupPath(cue.ParsePath("tokens")).Exists() {
		return nil, &TableError{Field: "tokens", Message: "tokens is required", Pos: data.Pos()}
	}
	tokens := make(map[string]Token)
	if err := v.LookupPath(cue.ParsePath("tokens")).Decode(&tokens); err != nil {
		return nil, formatCUEError(err)
	}
	return &Table{tokens: tokens}, nil
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &TableError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &TableError{Field: "cue", Message: first.Error()}
}

// Lookup returns the token for name.
func (t *Table) Lookup(name string) (Token, bool) {
	tok, ok := t.tokens[name]
	return tok, ok
}

// Names returns every principal with a token, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.tokens))
	for name := range t.tokens {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Missing returns the names that have no token, in input order.
func (t *Table) Missing(names []string) []string {
	var missing []string
	for _, name := range names {
		if _, ok := t.tokens[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
