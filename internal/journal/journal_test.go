package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lmsseed/internal/testutil"
)

var start = time.Date(2024, 11, 14, 22, 13, 20, 0, time.UTC)

func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, WithNow(testutil.NewStepClock(start, time.Second).Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer j.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("journal file was not created")
	}

	var version int
	require.NoError(t, j.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	var mode string
	require.NoError(t, j.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 3; i++ {
		j, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		j.Close()
	}
}

func TestRun_RecordAndRead(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)

	w, err := j.BeginRun(ctx, "0192f0c6-0000-7000-8000-000000000001", "http://127.0.0.1:3000")
	require.NoError(t, err)

	require.NoError(t, w.Record(ctx, Entry{Stage: "users", Kind: "user", Name: "course-owner", RemoteID: 3, CanonicalID: 1001}))
	require.NoError(t, w.Record(ctx, Entry{Stage: "users", Kind: "user", Name: "course-student", RemoteID: 4, CanonicalID: 1002}))
	require.NoError(t, w.Record(ctx, Entry{Stage: "courses", Kind: "course", Name: "course101", RemoteID: 5, CanonicalID: 110000000000101}))

	running, err := j.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, running.Status)
	assert.True(t, running.FinishedAt.IsZero())

	require.NoError(t, w.Finish(ctx, nil))

	run, err := j.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, w.RunID(), run.ID)
	assert.Equal(t, "http://127.0.0.1:3000", run.Server)
	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, start, run.StartedAt)
	assert.Equal(t, start.Add(time.Second), run.FinishedAt)

	entries, err := j.Entries(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq, "entries are stamped 1..n")
	}
	assert.Equal(t, Entry{Seq: 3, Stage: "courses", Kind: "course", Name: "course101", RemoteID: 5, CanonicalID: 110000000000101}, entries[2])
}

func TestRun_FailedRunKeepsError(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)

	w, err := j.BeginRun(ctx, "run-a", "")
	require.NoError(t, err)
	require.NoError(t, w.Finish(ctx, errors.New("POST accounts/1/sub_accounts: status 500")))

	run, err := j.Run(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Error, "status 500")
}

func TestRuns_NewestFirst(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)

	// UUIDv7 ids sort by creation time.
	for _, id := range []string{
		"0192f0c6-0000-7000-8000-000000000001",
		"0192f0c6-0000-7000-8000-000000000003",
		"0192f0c6-0000-7000-8000-000000000002",
	} {
		_, err := j.BeginRun(ctx, id, "")
		require.NoError(t, err)
	}

	runs, err := j.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "0192f0c6-0000-7000-8000-000000000003", runs[0].ID)
	assert.Equal(t, "0192f0c6-0000-7000-8000-000000000001", runs[2].ID)

	latest, err := j.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, runs[0].ID, latest.ID)
}

func TestLatestRun_Empty(t *testing.T) {
	_, err := createTestJournal(t).LatestRun(context.Background())
	assert.ErrorIs(t, err, ErrNoRuns)
}

func TestRun_NotFound(t *testing.T) {
	_, err := createTestJournal(t).Run(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRecord_UnknownRunRejected(t *testing.T) {
	j := createTestJournal(t)
	w := &RunWriter{j: j, runID: "never-begun", clock: NewClockAt(0)}

	err := w.Record(context.Background(), Entry{Stage: "users", Kind: "user", Name: "x"})
	assert.Error(t, err, "foreign keys are enforced")
}

func TestBeginRun_DuplicateID(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)

	_, err := j.BeginRun(ctx, "dup", "")
	require.NoError(t, err)
	_, err = j.BeginRun(ctx, "dup", "")
	assert.Error(t, err)
}

func TestClock(t *testing.T) {
	c := NewClockAt(10)
	assert.Equal(t, int64(10), c.Current())
	assert.Equal(t, int64(11), c.Next())
	assert.Equal(t, int64(12), c.Next())
	assert.Equal(t, int64(12), c.Current())
}
