package backing

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
)

// PsqlExecutor runs each statement through a psql subprocess.
type PsqlExecutor struct {
	Path     string
	Args     []string // extra connection flags, e.g. -h, -U
	Database string
	Logger   *slog.Logger
}

// NewPsqlExecutor returns a PsqlExecutor. An empty path means "psql" on
// $PATH.
func NewPsqlExecutor(path string, args []string, database string, logger *slog.Logger) *PsqlExecutor {
	if path == "" {
		path = "psql"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PsqlExecutor{Path: path, Args: args, Database: database, Logger: logger}
}

// Exec runs sql with ON_ERROR_STOP so the first failing statement aborts.
func (e *PsqlExecutor) Exec(ctx context.Context, sql string) error {
	_, err := e.run(ctx, NormalizeSQL(sql), false)
	return err
}

// Query runs sql in unaligned, tuples-only mode and returns the non-empty
// output lines.
func (e *PsqlExecutor) Query(ctx context.Context, sql string) ([]string, error) {
	out, err := e.run(ctx, NormalizeSQL(sql), true)
	if err != nil {
		return nil, err
	}
	var rows []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		rows = append(rows, line)
	}
	return rows, nil
}

// Close is a no-op; every statement uses its own process.
func (e *PsqlExecutor) Close(context.Context) error {
	return nil
}

func (e *PsqlExecutor) command(sql string, tuples bool) []string {
	args := append([]string(nil), e.Args...)
	args = append(args, "-X", "-q", "-v", "ON_ERROR_STOP=1")
	if tuples {
		args = append(args, "-A", "-t")
	}
	return append(args, "-c", sql, e.Database)
}

func (e *PsqlExecutor) run(ctx context.Context, sql string, tuples bool) (string, error) {
	e.Logger.Debug("psql", "sql", sql)

	cmd := exec.CommandContext(ctx, e.Path, e.command(sql, tuples)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &StatementError{SQL: sql, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return stdout.String(), nil
}
