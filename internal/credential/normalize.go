package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/lmsseed/internal/backing"
	"github.com/roach88/lmsseed/internal/config"
)

// ErrUnknownPrincipal means the token table has no entry for a principal.
var ErrUnknownPrincipal = errors.New("no canonical token for principal")

// UpdateSQL overwrites the stored token fields of userID with tok. The
// table schema restricts every field to [A-Za-z0-9], so the values are
// safe to inline.
func UpdateSQL(tok Token, userID int64) string {
	return fmt.Sprintf(`UPDATE public.access_tokens
SET crypted_token = '%s', token_hint = '%s', crypted_refresh_token = '%s'
WHERE user_id = %d;`, tok.CryptedToken, tok.TokenHint, tok.CryptedRefreshToken, userID)
}

// CheckSQL counts the rows of userID that carry tok's digest.
func CheckSQL(tok Token, userID int64) string {
	return fmt.Sprintf("SELECT count(*) FROM public.access_tokens WHERE user_id = %d AND crypted_token = '%s';",
		userID, tok.CryptedToken)
}

// Normalizer rewrites freshly minted tokens to their canonical values.
type Normalizer struct {
	exec   backing.Executor
	table  *Table
	policy config.MissingTokenPolicy
	logger *slog.Logger
}

// NewNormalizer returns a Normalizer. policy decides what happens to
// principals absent from table.
func NewNormalizer(exec backing.Executor, table *Table, policy config.MissingTokenPolicy, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{exec: exec, table: table, policy: policy, logger: logger}
}

// Check applies the missing-token policy to names up front, so a run
// configured to fail does so before touching the LMS.
func (n *Normalizer) Check(names []string) error {
	missing := n.table.Missing(names)
	if len(missing) == 0 || n.policy == config.MissingTokenSkip {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownPrincipal, missing)
}

// Normalize overwrites the token row of userID with the canonical token
// for name. Running it again writes the same values.
func (n *Normalizer) Normalize(ctx context.Context, name string, userID int64) error {
	tok, ok := n.table.Lookup(name)
	if !ok {
		if n.policy == config.MissingTokenSkip {
			n.logger.Warn("no canonical token, keeping the minted one", "principal", name)
			return nil
		}
		return fmt.Errorf("%w: %q", ErrUnknownPrincipal, name)
	}
	if err := n.exec.Exec(ctx, UpdateSQL(tok, userID)); err != nil {
		return fmt.Errorf("normalize token for %q: %w", name, err)
	}
	n.logger.Debug("normalized token", "principal", name, "user_id", userID, "hint", tok.TokenHint)
	return nil
}
