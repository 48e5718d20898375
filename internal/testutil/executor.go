package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/roach88/lmsseed/internal/backing"
)

type response struct {
	contains string
	rows     []string
	err      error
}

// RecordingExecutor is an in-memory backing.Executor. It records every
// statement (whitespace-normalised) and answers queries from canned rows
// registered with RespondTo.
type RecordingExecutor struct {
	mu         sync.Mutex
	statements []string
	responses  []response
	closed     bool
}

var _ backing.Executor = (*RecordingExecutor)(nil)

// NewRecordingExecutor returns an empty RecordingExecutor.
func NewRecordingExecutor() *RecordingExecutor {
	return &RecordingExecutor{}
}

// RespondTo makes any query containing substr return rows. Later
// registrations win.
func (r *RecordingExecutor) RespondTo(substr string, rows ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, response{contains: substr, rows: rows})
}

// FailOn makes any statement or query containing substr fail with err.
func (r *RecordingExecutor) FailOn(substr string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, response{contains: substr, err: err})
}

func (r *RecordingExecutor) Exec(ctx context.Context, sql string) error {
	_, err := r.record(sql)
	return err
}

func (r *RecordingExecutor) Query(ctx context.Context, sql string) ([]string, error) {
	return r.record(sql)
}

func (r *RecordingExecutor) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Closed reports whether Close was called.
func (r *RecordingExecutor) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Statements returns every statement seen so far, in order.
func (r *RecordingExecutor) Statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statements...)
}

// StatementsContaining returns the recorded statements containing substr.
func (r *RecordingExecutor) StatementsContaining(substr string) []string {
	var out []string
	for _, s := range r.Statements() {
		if strings.Contains(s, substr) {
			out = append(out, s)
		}
	}
	return out
}

func (r *RecordingExecutor) record(sql string) ([]string, error) {
	sql = backing.NormalizeSQL(sql)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.statements = append(r.statements, sql)
	for i := len(r.responses) - 1; i >= 0; i-- {
		resp := r.responses[i]
		if strings.Contains(sql, resp.contains) {
			if resp.err != nil {
				return nil, &backing.StatementError{SQL: sql, Err: resp.err}
			}
			return append([]string(nil), resp.rows...), nil
		}
	}
	return nil, nil
}
