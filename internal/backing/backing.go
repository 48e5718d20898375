// Package backing runs corrective SQL against the LMS's PostgreSQL store.
//
// Statements are complete literal strings; nothing is parameter-bound. Two
// executors are provided: PsqlExecutor shells out to the psql client the
// way an operator would, and PgxExecutor holds one pgx connection in simple
// query mode so multi-statement strings behave the same as under psql.
package backing

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/roach88/lmsseed/internal/config"
)

// FieldSeparator joins the columns of one result row, matching psql's
// unaligned output.
const FieldSeparator = "|"

// Executor runs SQL against the backing store. Exec is for statements with
// no result; Query returns one line per row with columns joined by
// FieldSeparator.
type Executor interface {
	Exec(ctx context.Context, sql string) error
	Query(ctx context.Context, sql string) ([]string, error)
	Close(ctx context.Context) error
}

// StatementError reports a failed statement. Stderr carries psql's
// diagnostics when the psql executor is used.
type StatementError struct {
	SQL    string
	Stderr string
	Err    error
}

func (e *StatementError) Error() string {
	msg := fmt.Sprintf("sql statement failed: %v", e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg + " [" + truncate(e.SQL, 200) + "]"
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeSQL collapses every run of whitespace to a single space so a
// statement written across several lines is submitted as one line.
func NormalizeSQL(sql string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(sql, " "))
}

// Open returns the executor selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Executor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case config.DriverPsql:
		return NewPsqlExecutor(cfg.PsqlPath, cfg.PsqlArgs, cfg.Database, logger), nil
	case config.DriverPgx:
		pg, err := ConnectPgx(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
