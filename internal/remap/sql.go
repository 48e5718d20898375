package remap

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Kind names an entity whose primary key can be remapped.
type Kind string

const (
	User       Kind = "user"
	Course     Kind = "course"
	Assignment Kind = "assignment"
	Submission Kind = "submission"
	GroupSet   Kind = "groupset"
	Group      Kind = "group"
)

// Audit record sets purged before remaps.
const (
	AuditAuthentication = "authentication"
	AuditPseudonym      = "pseudonym"
	AuditCourse         = "course"
	AuditGradeChange    = "grade_change"
)

// dependent is a foreign-key column that must follow the primary key.
type dependent struct {
	Table  string
	Column string
	Where  string // extra predicate, e.g. a polymorphic type column
}

type entity struct {
	Table      string
	Dependents []dependent
	Audits     []string
}

const courseContext = "context_type = 'Course'"

var entities = map[Kind]entity{
	User: {
		Table: "users",
		Dependents: []dependent{
			{Table: "pseudonyms", Column: "user_id"},
			{Table: "communication_channels", Column: "user_id"},
			{Table: "user_account_associations", Column: "user_id"},
			{Table: "account_users", Column: "user_id"},
			{Table: "access_tokens", Column: "user_id"},
			{Table: "enrollments", Column: "user_id"},
			{Table: "submissions", Column: "user_id"},
			{Table: "group_memberships", Column: "user_id"},
		},
		Audits: []string{AuditAuthentication, AuditPseudonym},
	},
	Course: {
		Table: "courses",
		Dependents: []dependent{
			{Table: "course_account_associations", Column: "course_id"},
			{Table: "course_sections", Column: "course_id"},
			{Table: "enrollments", Column: "course_id"},
			{Table: "post_policies", Column: "course_id"},
			{Table: "assignments", Column: "context_id", Where: courseContext},
			{Table: "assignment_groups", Column: "context_id", Where: courseContext},
			{Table: "group_categories", Column: "context_id", Where: courseContext},
			{Table: "groups", Column: "context_id", Where: courseContext},
		},
		Audits: []string{AuditCourse},
	},
	Assignment: {
		Table: "assignments",
		Dependents: []dependent{
			{Table: "submissions", Column: "assignment_id"},
			{Table: "post_policies", Column: "assignment_id"},
			{Table: "assignment_overrides", Column: "assignment_id"},
		},
	},
	Submission: {
		Table: "submissions",
		Dependents: []dependent{
			{Table: "submission_comments", Column: "submission_id"},
		},
		Audits: []string{AuditGradeChange},
	},
	GroupSet: {
		Table: "group_categories",
		Dependents: []dependent{
			{Table: "groups", Column: "group_category_id"},
			{Table: "assignments", Column: "group_category_id"},
		},
	},
	Group: {
		Table: "groups",
		Dependents: []dependent{
			{Table: "group_memberships", Column: "group_id"},
		},
	},
}

// Kinds returns every remappable kind in dependency order.
func Kinds() []Kind {
	return []Kind{User, Course, Assignment, Submission, GroupSet, Group}
}

// Table returns the primary table of kind.
func Table(kind Kind) (string, error) {
	ent, ok := entities[kind]
	if !ok {
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}
	return ent.Table, nil
}

// AuditSets returns the audit record sets purged before remapping kind.
func AuditSets(kind Kind) []string {
	return append([]string(nil), entities[kind].Audits...)
}

// Replica mode suspends foreign-key triggers for the transaction so the
// dependents can move before the row they point at.
const (
	txBegin  = "BEGIN;\nSET LOCAL session_replication_role = 'replica';\n"
	txCommit = "COMMIT;\n"
)

// Statement builds the corrective transaction moving kind oldID to newID:
// every dependent column first, then the primary key.
func Statement(kind Kind, oldID, newID int64) (string, error) {
	ent, ok := entities[kind]
	if !ok {
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}

	var b strings.Builder
	b.WriteString(txBegin)
	for _, d := range ent.Dependents {
		fmt.Fprintf(&b, "UPDATE public.%s SET %s = %d WHERE %s = %d", d.Table, d.Column, newID, d.Column, oldID)
		if d.Where != "" {
			b.WriteString(" AND " + d.Where)
		}
		b.WriteString(";\n")
	}
	fmt.Fprintf(&b, "UPDATE public.%s SET id = %d WHERE id = %d;\n", ent.Table, newID, oldID)
	b.WriteString(txCommit)
	return b.String(), nil
}

var auditSetName = regexp.MustCompile(`^[a-z][a-z_]*$`)

// DiscoverySQL lists the partitions of an audit record set in name order.
func DiscoverySQL(set string) (string, error) {
	if !auditSetName.MatchString(set) {
		return "", fmt.Errorf("invalid audit set name %q", set)
	}
	return "SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' " +
		`AND table_name LIKE 'auditor\_` + strings.ReplaceAll(set, "_", `\_`) + `\_records%' ` +
		"ORDER BY table_name;", nil
}

// PurgeSQL empties one audit partition.
func PurgeSQL(table string) string {
	return "DELETE FROM " + pgx.Identifier{"public", table}.Sanitize() + ";"
}

// CanvasTimeLayout renders instants with millisecond precision.
const CanvasTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatMillis renders milliseconds since the Unix epoch as a UTC
// timestamp, e.g. 1700000000000 -> 2023-11-14T22:13:20.000Z.
func FormatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(CanvasTimeLayout)
}

// SubmissionFix corrects the newest submission row of one
// (assignment, user) pair.
type SubmissionFix struct {
	AssignmentID int64
	UserID       int64
	GradingStart *int64 // ms; sets submitted_at
	GradingEnd   *int64 // ms; sets graded_at and posted_at
	NewID        int64  // canonical submission id; 0 keeps the current id
}

// Empty reports whether the fix would change nothing.
func (f SubmissionFix) Empty() bool {
	return f.GradingStart == nil && f.GradingEnd == nil && f.NewID == 0
}

// SubmissionSQL builds the correction. The target row is the one with the
// greatest updated_at for the pair, which is only meaningful while a
// single writer is seeding.
func SubmissionSQL(f SubmissionFix) string {
	target := fmt.Sprintf("(SELECT id FROM public.submissions WHERE assignment_id = %d AND user_id = %d "+
		"ORDER BY updated_at DESC, id DESC LIMIT 1)", f.AssignmentID, f.UserID)

	var sets []string
	if f.GradingStart != nil {
		sets = append(sets, fmt.Sprintf("submitted_at = '%s'", FormatMillis(*f.GradingStart)))
	}
	if f.GradingEnd != nil {
		end := FormatMillis(*f.GradingEnd)
		sets = append(sets, fmt.Sprintf("graded_at = '%s'", end), fmt.Sprintf("posted_at = '%s'", end))
	}
	if f.NewID != 0 {
		sets = append(sets, fmt.Sprintf("id = %d", f.NewID))
	}

	var b strings.Builder
	b.WriteString(txBegin)
	if f.NewID != 0 {
		fmt.Fprintf(&b, "UPDATE public.submission_comments SET submission_id = %d WHERE submission_id = %s;\n", f.NewID, target)
	}
	if len(sets) > 0 {
		fmt.Fprintf(&b, "UPDATE public.submissions SET %s WHERE id = %s;\n", strings.Join(sets, ", "), target)
	}
	b.WriteString(txCommit)
	return b.String()
}
