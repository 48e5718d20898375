package backing

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lmsseed/internal/config"
)

func TestNormalizeSQL(t *testing.T) {
	in := `
		UPDATE public.users
		SET   id = 1002
		WHERE	id = 7
		;
	`
	assert.Equal(t, "UPDATE public.users SET id = 1002 WHERE id = 7 ;", NormalizeSQL(in))
	assert.Equal(t, "", NormalizeSQL(" \n\t "))
}

// fakePsql writes a shell script that records its arguments (one per line)
// and then runs body.
func fakePsql(t *testing.T, body string) (path, argsFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake psql needs a POSIX shell")
	}
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	path = filepath.Join(dir, "psql")
	script := "#!/bin/sh\nfor a in \"$@\"; do printf '%s\\n' \"$a\"; done > " + argsFile + "\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path, argsFile
}

func readArgs(t *testing.T, file string) []string {
	t.Helper()
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestPsqlExecutor_Exec(t *testing.T) {
	path, argsFile := fakePsql(t, "exit 0")
	e := NewPsqlExecutor(path, []string{"-h", "db"}, "canvas_development", nil)

	require.NoError(t, e.Exec(context.Background(), "UPDATE  public.users\n SET id = 1"))
	assert.Equal(t, []string{
		"-h", "db",
		"-X", "-q", "-v", "ON_ERROR_STOP=1",
		"-c", "UPDATE public.users SET id = 1",
		"canvas_development",
	}, readArgs(t, argsFile))
}

func TestPsqlExecutor_Query(t *testing.T) {
	path, argsFile := fakePsql(t, `printf 'auditor_course_records_2024_1\n\nauditor_course_records_2024_2\n'`)
	e := NewPsqlExecutor(path, nil, "lms", nil)

	rows, err := e.Query(context.Background(), "SELECT table_name FROM information_schema.tables")
	require.NoError(t, err)
	assert.Equal(t, []string{"auditor_course_records_2024_1", "auditor_course_records_2024_2"}, rows)

	args := readArgs(t, argsFile)
	assert.Contains(t, args, "-A")
	assert.Contains(t, args, "-t")
}

func TestPsqlExecutor_FailureCarriesStderr(t *testing.T) {
	path, _ := fakePsql(t, `echo 'ERROR:  duplicate key value violates unique constraint' >&2; exit 3`)
	e := NewPsqlExecutor(path, nil, "lms", nil)

	err := e.Exec(context.Background(), "UPDATE public.users SET id = 1")
	var stmtErr *StatementError
	require.ErrorAs(t, err, &stmtErr)
	assert.Equal(t, "UPDATE public.users SET id = 1", stmtErr.SQL)
	assert.Contains(t, stmtErr.Stderr, "duplicate key")
	assert.Contains(t, err.Error(), "duplicate key")
}

func TestPsqlExecutor_MissingBinary(t *testing.T) {
	e := NewPsqlExecutor(filepath.Join(t.TempDir(), "no-psql"), nil, "lms", nil)
	_, err := e.Query(context.Background(), "SELECT 1")
	var stmtErr *StatementError
	require.ErrorAs(t, err, &stmtErr)
}

func TestOpen(t *testing.T) {
	exec, err := Open(context.Background(), config.StoreConfig{Driver: config.DriverPsql, Database: "lms"}, nil)
	require.NoError(t, err)
	psql, ok := exec.(*PsqlExecutor)
	require.True(t, ok)
	assert.Equal(t, "psql", psql.Path)
	assert.NoError(t, exec.Close(context.Background()))

	_, err = Open(context.Background(), config.StoreConfig{Driver: "mysql"}, nil)
	assert.Error(t, err)

	_, err = Open(context.Background(), config.StoreConfig{Driver: config.DriverPgx, DSN: "::not a dsn::"}, nil)
	assert.Error(t, err)
}
