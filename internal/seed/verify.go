package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/lmsseed/internal/backing"
	"github.com/roach88/lmsseed/internal/credential"
	"github.com/roach88/lmsseed/internal/fixture"
	"github.com/roach88/lmsseed/internal/remap"
)

// Check is one post-run assertion against the backing store.
type Check struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	SQL    string `json:"sql"`
	Want   int    `json:"want"`
	Got    int    `json:"got"`
	Passed bool   `json:"passed"`
}

// Report collects the outcome of a verification pass.
type Report struct {
	Checks []Check `json:"checks"`
}

// OK reports whether every check passed.
func (r *Report) OK() bool {
	return len(r.Failed()) == 0
}

// Failed returns the checks that did not pass.
func (r *Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Verifier confirms that a seeded store carries the canonical ids,
// timestamps and tokens of a dataset. It only reads.
type Verifier struct {
	exec   backing.Executor
	tokens *credential.Table
	logger *slog.Logger
}

// NewVerifier returns a Verifier. tokens may be nil to skip token checks.
func NewVerifier(exec backing.Executor, tokens *credential.Table, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{exec: exec, tokens: tokens, logger: logger}
}

// Plan returns the checks for data without running them.
func (v *Verifier) Plan(data *fixture.Dataset) []Check {
	var checks []Check
	add := func(kind, name, sql string) {
		checks = append(checks, Check{Kind: kind, Name: name, SQL: sql, Want: 1})
	}
	byID := func(kind remap.Kind, id fixture.ID) string {
		table, _ := remap.Table(kind)
		return fmt.Sprintf("SELECT count(*) FROM public.%s WHERE id = %d;", table, id)
	}

	for _, name := range data.PrincipalNames() {
		add(string(remap.User), name, byID(remap.User, data.Principals[name].CanonicalID))
	}
	for _, id := range data.CourseIDs() {
		add(string(remap.Course), id, byID(remap.Course, data.Courses[id].CanonicalID))
	}
	for _, a := range data.AssignmentList() {
		add(string(remap.Assignment), a.CourseID+"/"+a.ID, byID(remap.Assignment, a.CanonicalID))
	}
	for _, s := range data.Submissions {
		if sql := submissionCheckSQL(data, s); sql != "" {
			add(string(remap.Submission), s.ID, sql)
		}
	}
	for _, gs := range data.GroupSets {
		add(string(remap.GroupSet), gs.ID, byID(remap.GroupSet, gs.CanonicalID))
		for _, g := range gs.Groups {
			add(string(remap.Group), g.ID, byID(remap.Group, g.CanonicalID))
		}
	}
	if v.tokens != nil {
		for _, name := range data.PrincipalNames() {
			tok, ok := v.tokens.Lookup(name)
			if !ok {
				continue
			}
			add("token", name, credential.CheckSQL(tok, data.Principals[name].CanonicalID.Int64()))
		}
	}
	return checks
}

// submissionCheckSQL matches a submission by its canonical coordinates and
// whatever canonical fields the fixture pins. It returns "" when nothing
// is pinned.
func submissionCheckSQL(data *fixture.Dataset, s *fixture.Submission) string {
	p, _ := data.ResolvePrincipal(s.User)
	a, _ := data.Assignment(s.CourseID, s.AssignmentID)

	conds := []string{
		fmt.Sprintf("assignment_id = %d", a.CanonicalID),
		fmt.Sprintf("user_id = %d", p.CanonicalID),
	}
	pinned := false
	if s.CanonicalID != 0 {
		conds = append(conds, fmt.Sprintf("id = %d", s.CanonicalID))
		pinned = true
	}
	if s.GradingStart != nil {
		conds = append(conds, fmt.Sprintf("submitted_at = '%s'", remap.FormatMillis(*s.GradingStart)))
		pinned = true
	}
	if s.GradingEnd != nil {
		conds = append(conds, fmt.Sprintf("graded_at = '%s'", remap.FormatMillis(*s.GradingEnd)))
		pinned = true
	}
	if !pinned {
		return ""
	}
	return "SELECT count(*) FROM public.submissions WHERE " + strings.Join(conds, " AND ") + ";"
}

// Verify runs every planned check. A query failure aborts the pass; a
// mismatch is recorded in the report.
func (v *Verifier) Verify(ctx context.Context, data *fixture.Dataset) (*Report, error) {
	report := &Report{}
	for _, check := range v.Plan(data) {
		rows, err := v.exec.Query(ctx, check.SQL)
		if err != nil {
			return report, fmt.Errorf("verify %s %q: %w", check.Kind, check.Name, err)
		}
		if len(rows) > 0 {
			n, err := strconv.Atoi(strings.TrimSpace(rows[0]))
			if err != nil {
				return report, fmt.Errorf("verify %s %q: unexpected count %q", check.Kind, check.Name, rows[0])
			}
			check.Got = n
		}
		check.Passed = check.Got == check.Want
		if !check.Passed {
			v.logger.Warn("verification failed", "kind", check.Kind, "name", check.Name, "got", check.Got)
		}
		report.Checks = append(report.Checks, check)
	}
	return report, nil
}
