package backing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
)

// PgxExecutor runs statements over a single pgx connection using the
// simple query protocol, which accepts several ;-separated statements in
// one call and returns every column in text form.
type PgxExecutor struct {
	conn   *pgx.Conn
	logger *slog.Logger
}

// ConnectPgx dials dsn.
func ConnectPgx(ctx context.Context, dsn string, logger *slog.Logger) (*PgxExecutor, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse store dsn: %w", err)
	}
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PgxExecutor{conn: conn, logger: logger}, nil
}

func (e *PgxExecutor) Exec(ctx context.Context, sql string) error {
	sql = NormalizeSQL(sql)
	e.logger.Debug("pgx exec", "sql", sql)
	if _, err := e.conn.Exec(ctx, sql); err != nil {
		return &StatementError{SQL: sql, Err: err}
	}
	return nil
}

func (e *PgxExecutor) Query(ctx context.Context, sql string) ([]string, error) {
	sql = NormalizeSQL(sql)
	e.logger.Debug("pgx query", "sql", sql)

	rows, err := e.conn.Query(ctx, sql)
	if err != nil {
		return nil, &StatementError{SQL: sql, Err: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		raw := rows.RawValues()
		fields := make([]string, len(raw))
		for i, v := range raw {
			fields[i] = string(v) // NULL reads as empty, as in psql -A
		}
		out = append(out, strings.Join(fields, FieldSeparator))
	}
	if err := rows.Err(); err != nil {
		return nil, &StatementError{SQL: sql, Err: err}
	}
	return out, nil
}

func (e *PgxExecutor) Close(ctx context.Context) error {
	return e.conn.Close(ctx)
}
