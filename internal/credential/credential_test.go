package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lmsseed/internal/backing"
	"github.com/roach88/lmsseed/internal/config"
	"github.com/roach88/lmsseed/internal/testutil"
)

func TestDefault(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"course-admin", "course-grader", "course-other", "course-owner", "course-student",
		"server-admin", "server-creator", "server-owner", "server-user",
	}, table.Names())

	tok, ok := table.Lookup("course-student")
	require.True(t, ok)
	assert.Equal(t, "T7J3D", tok.TokenHint)
	assert.Equal(t, "27516d47fc66ddd881621b798fb1b2ef097317ba", tok.CryptedToken)
	assert.Equal(t, "38ac483969e03a1075ed4297a832934087942b55", tok.CryptedRefreshToken)
	assert.Len(t, tok.Cleartext, 64)
}

const validEntry = `{
	cleartext:             "ABCDE0000000000000000000000000000000000000000000000000000000000z"
	token_hint:            "ABCDE"
	crypted_token:         "0123456789abcdef0123456789abcdef01234567"
	crypted_refresh_token: "fedcba9876543210fedcba9876543210fedcba98"
}`

func writeTable(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Override(t *testing.T) {
	path := writeTable(t, "tokens.cue", `tokens: "demo-user": `+validEntry)

	table, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"demo-user"}, table.Names())
}

func TestLoad_JSON(t *testing.T) {
	path := writeTable(t, "tokens.json", `{"tokens": {"demo-user": {
		"cleartext": "ABCDE0000000000000000000000000000000000000000000000000000000000z",
		"token_hint": "ABCDE",
		"crypted_token": "0123456789abcdef0123456789abcdef01234567",
		"crypted_refresh_token": "fedcba9876543210fedcba9876543210fedcba98"}}}`)

	table, err := Load(path)
	require.NoError(t, err)
	_, ok := table.Lookup("demo-user")
	assert.True(t, ok)
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	table, err := Load("")
	require.NoError(t, err)
	assert.Len(t, table.Names(), 9)
}

func TestLoad_SchemaViolations(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"hint mismatch", `tokens: x: {
	cleartext:             "ABCDE0000000000000000000000000000000000000000000000000000000000z"
	token_hint:            "ZZZZZ"
	crypted_token:         "0123456789abcdef0123456789abcdef01234567"
	crypted_refresh_token: "fedcba9876543210fedcba9876543210fedcba98"
}`},
		{"short cleartext", `tokens: x: {
	cleartext:             "ABCDE"
	token_hint:            "ABCDE"
	crypted_token:         "0123456789abcdef0123456789abcdef01234567"
	crypted_refresh_token: "fedcba9876543210fedcba9876543210fedcba98"
}`},
		{"uppercase digest", `tokens: x: {
	cleartext:             "ABCDE0000000000000000000000000000000000000000000000000000000000z"
	token_hint:            "ABCDE"
	crypted_token:         "0123456789ABCDEF0123456789abcdef01234567"
	crypted_refresh_token: "fedcba9876543210fedcba9876543210fedcba98"
}`},
		{"missing refresh digest", `tokens: x: {
	cleartext:             "ABCDE0000000000000000000000000000000000000000000000000000000000z"
	token_hint:            "ABCDE"
	crypted_token:         "0123456789abcdef0123456789abcdef01234567"
}`},
		{"syntax error", `tokens: {`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTable(t, "tokens.cue", tc.content))
			var tableErr *TableError
			require.ErrorAs(t, err, &tableErr)
		})
	}
}

func TestLoad_MissingTokensField(t *testing.T) {
	_, err := Load(writeTable(t, "tokens.cue", `other: 1`))
	var tableErr *TableError
	require.ErrorAs(t, err, &tableErr)
	assert.Equal(t, "tokens", tableErr.Field)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.cue"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNormalize_Idempotent(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)
	exec := testutil.NewRecordingExecutor()
	n := NewNormalizer(exec, table, config.MissingTokenFail, nil)

	require.NoError(t, n.Normalize(context.Background(), "course-student", 1002))
	require.NoError(t, n.Normalize(context.Background(), "course-student", 1002))

	stmts := exec.Statements()
	require.Len(t, stmts, 2)
	assert.Equal(t, stmts[0], stmts[1])
	assert.Equal(t,
		"UPDATE public.access_tokens SET crypted_token = '27516d47fc66ddd881621b798fb1b2ef097317ba', "+
			"token_hint = 'T7J3D', crypted_refresh_token = '38ac483969e03a1075ed4297a832934087942b55' "+
			"WHERE user_id = 1002;",
		stmts[0])
}

func TestNormalize_MissingTokenPolicy(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	t.Run("fail", func(t *testing.T) {
		exec := testutil.NewRecordingExecutor()
		n := NewNormalizer(exec, table, config.MissingTokenFail, nil)

		err := n.Normalize(context.Background(), "ghost", 42)
		require.ErrorIs(t, err, ErrUnknownPrincipal)
		assert.Contains(t, err.Error(), "ghost")
		assert.Empty(t, exec.Statements())

		require.ErrorIs(t, n.Check([]string{"course-owner", "ghost"}), ErrUnknownPrincipal)
		require.NoError(t, n.Check([]string{"course-owner"}))
	})

	t.Run("skip", func(t *testing.T) {
		exec := testutil.NewRecordingExecutor()
		n := NewNormalizer(exec, table, config.MissingTokenSkip, nil)

		require.NoError(t, n.Normalize(context.Background(), "ghost", 42))
		require.NoError(t, n.Check([]string{"ghost"}))
		assert.Empty(t, exec.Statements())
	})
}

func TestNormalize_StoreError(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)
	exec := testutil.NewRecordingExecutor()
	exec.FailOn("access_tokens", assert.AnError)

	err = NewNormalizer(exec, table, config.MissingTokenFail, nil).Normalize(context.Background(), "server-owner", 1)
	var stmtErr *backing.StatementError
	require.ErrorAs(t, err, &stmtErr)
}

func TestCheckSQL(t *testing.T) {
	tok := Token{CryptedToken: "9d94301623bf938a1353e81d61571ff72064b2c9"}
	assert.Equal(t,
		"SELECT count(*) FROM public.access_tokens WHERE user_id = 1 AND crypted_token = '9d94301623bf938a1353e81d61571ff72064b2c9';",
		CheckSQL(tok, 1))
}
