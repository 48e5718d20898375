package fixture

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// copyBasic copies testdata/basic into a fresh temp dir so tests can mutate it.
func copyBasic(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	entries, err := os.ReadDir("testdata/basic")
	require.NoError(t, err)
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join("testdata/basic", entry.Name()))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, entry.Name()), data, 0644))
	}
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoad_Basic(t *testing.T) {
	d, err := Load("testdata/basic")
	require.NoError(t, err)

	assert.Equal(t, []string{"course-owner", "course-student", "server-owner"}, d.PrincipalNames())
	assert.Equal(t, ID(1001), d.Principals["course-owner"].CanonicalID, "string ids decode")
	assert.Equal(t, ID(1002), d.Principals["course-student"].CanonicalID, "numeric ids decode")
	assert.Equal(t, "course-student@test.edulinq.org", d.Principals["course-student"].Login())
	assert.Equal(t, []string{"course101"}, d.Principals["course-student"].CourseIDs())

	course := d.Courses["course101"]
	require.NotNil(t, course)
	assert.Equal(t, ID(110000000000101), course.CanonicalID)
	assert.Equal(t, "course101", course.ShortCode())

	list := d.AssignmentList()
	require.Len(t, list, 1)
	assert.Equal(t, "course101", list[0].CourseID)
	assert.Equal(t, ID(500), list[0].CanonicalID)
	assert.Equal(t, 2.0, list[0].MaxPoints)

	require.Len(t, d.Submissions, 1)
	sub := d.Submissions[0]
	require.NotNil(t, sub.GradingStart)
	assert.Equal(t, int64(1700000000000), *sub.GradingStart)
	assert.Equal(t, ID(0), sub.CanonicalID)

	require.Len(t, d.GroupSets, 1)
	assert.Equal(t, ID(700), d.GroupSets[0].CanonicalID)
	assert.Equal(t, []string{"course-student", "course-owner"}, d.GroupSets[0].Groups[0].Members)
}

func TestLoad_GroupsOptional(t *testing.T) {
	dir := copyBasic(t)
	require.NoError(t, os.Remove(filepath.Join(dir, GroupsFile)))

	d, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, d.GroupSets)
}

func TestLoad_MissingRequiredFile(t *testing.T) {
	dir := copyBasic(t)
	require.NoError(t, os.Remove(filepath.Join(dir, CoursesFile)))

	_, err := Load(dir)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CoursesFile, verr.File)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoad_SchemaViolations(t *testing.T) {
	testCases := []struct {
		name    string
		file    string
		content string
	}{
		{"bad email", UsersFile, `[{"name":"a","email":"not-an-email","password":"a","canonical-id":1}]`},
		{"zero id", UsersFile, `[{"name":"a","email":"a@b","password":"a","canonical-id":0}]`},
		{"non numeric id", CoursesFile, `[{"id":"c","canonical-id":"abc","name":"C"}]`},
		{"missing name", CoursesFile, `[{"id":"c","canonical-id":5}]`},
		{"negative points", AssignmentsFile, `{"course101":[{"id":"x","canonical-id":9,"name":"X","type":"autograder","max-points":-1}]}`},
		{"string score", SubmissionsFile, `[{"id":"s","course-id":"course101","assignment-id":"hw0","user":"course-student","score":"A"}]`},
		{"malformed", GroupsFile, `[{`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := copyBasic(t)
			writeFile(t, dir, tc.file, tc.content)

			_, err := Load(dir)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.file, verr.File)
		})
	}
}

func TestLoad_DanglingReferences(t *testing.T) {
	testCases := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{
			name:    "enrollment in unknown course",
			file:    UsersFile,
			content: `[{"name":"server-owner","email":"s@t","password":"p","canonical-id":1,"course-info":{"nope":{"role":"student"}}}]`,
			want:    `unknown course "nope"`,
		},
		{
			name:    "submission for unknown user",
			file:    SubmissionsFile,
			content: `[{"id":"s","course-id":"course101","assignment-id":"hw0","user":"ghost@test.edulinq.org","score":1}]`,
			want:    `unknown user "ghost@test.edulinq.org"`,
		},
		{
			name:    "submission for unknown assignment",
			file:    SubmissionsFile,
			content: `[{"id":"s","course-id":"course101","assignment-id":"hw9","user":"course-student","score":1}]`,
			want:    "unknown assignment course101/hw9",
		},
		{
			name:    "group member unknown",
			file:    GroupsFile,
			content: `[{"id":"gs","canonical-id":7,"name":"GS","course-id":"course101","groups":[{"id":"g","canonical-id":8,"name":"G","members":["ghost"]}]}]`,
			want:    `unknown member "ghost"`,
		},
		{
			name:    "duplicate user canonical id",
			file:    UsersFile,
			content: `[{"name":"a","email":"a@t","password":"p","canonical-id":5},{"name":"b","email":"b@t","password":"p","canonical-id":"5"}]`,
			want:    "share canonical id 5",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := copyBasic(t)
			writeFile(t, dir, tc.file, tc.content)
			if tc.file == UsersFile {
				// keep other files consistent with the reduced user list
				writeFile(t, dir, SubmissionsFile, `[]`)
				writeFile(t, dir, GroupsFile, `[]`)
			}

			_, err := Load(dir)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Error(), tc.want)
		})
	}
}

func TestLoad_NormalizesNames(t *testing.T) {
	dir := copyBasic(t)
	// "José" spelled with a combining acute accent (NFD).
	writeFile(t, dir, CoursesFile, `[{"id":"course101","canonical-id":101,"name":"Jose\u0301's Course"}]`)

	d, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "Jos\u00e9's Course", d.Courses["course101"].Name)
}

func TestResolvePrincipal(t *testing.T) {
	d, err := Load("testdata/basic")
	require.NoError(t, err)

	byName, ok := d.ResolvePrincipal("course-student")
	require.True(t, ok)
	byEmail, ok := d.ResolvePrincipal("course-student@test.edulinq.org")
	require.True(t, ok)
	byLocal, ok := d.ResolvePrincipal("course-student@elsewhere.org")
	require.True(t, ok)

	assert.Same(t, byName, byEmail)
	assert.Same(t, byName, byLocal)

	_, ok = d.ResolvePrincipal("nobody")
	assert.False(t, ok)
}

func TestID_JSON(t *testing.T) {
	var ids []ID
	require.NoError(t, json.Unmarshal([]byte(`[1, "22", null]`), &ids))
	assert.Equal(t, []ID{1, 22, 0}, ids)

	out, err := json.Marshal(ID(1002))
	require.NoError(t, err)
	assert.Equal(t, `"1002"`, string(out))

	var bad ID
	assert.Error(t, json.Unmarshal([]byte(`"12a"`), &bad))
}
