package fixture

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ID is a canonical LMS identifier. Fixture files may spell it as a JSON
// number or as a numeric string (the LMS itself returns string ids).
type ID int64

// UnmarshalJSON accepts both 1002 and "1002".
func (id *ID) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*id = 0
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = ID(v)
	return nil
}

// MarshalJSON writes the id as a JSON string, matching the LMS string-id mode.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Int64 returns the id as a plain integer.
func (id ID) Int64() int64 {
	return int64(id)
}

// Enrollment is a principal's role in one course.
type Enrollment struct {
	Role string `json:"role"`
}

// Principal is a fixture account holder. Name is its logical key.
type Principal struct {
	Name        string                `json:"name"`
	Email       string                `json:"email"`
	Password    string                `json:"password"`
	CanonicalID ID                    `json:"canonical-id"`
	Courses     map[string]Enrollment `json:"course-info,omitempty"`
}

// Login returns the login id the principal signs in with.
func (p *Principal) Login() string {
	return p.Email
}

// CourseIDs returns the courses the principal is enrolled in, sorted.
func (p *Principal) CourseIDs() []string {
	return sortedKeys(p.Courses)
}

type Course struct {
	ID          string `json:"id"`
	CanonicalID ID     `json:"canonical-id"`
	Name        string `json:"name"`
	Code        string `json:"code,omitempty"`
	Syllabus    string `json:"syllabus,omitempty"`
}

// ShortCode returns the course code, defaulting to the logical id.
func (c *Course) ShortCode() string {
	if c.Code != "" {
		return c.Code
	}
	return c.ID
}

type Assignment struct {
	ID          string  `json:"id"`
	CourseID    string  `json:"-"`
	CanonicalID ID      `json:"canonical-id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	MaxPoints   float64 `json:"max-points"`
}

// Submission is a graded attempt. Times are milliseconds since the Unix epoch.
type Submission struct {
	ID           string  `json:"id"`
	CanonicalID  ID      `json:"canonical-id,omitempty"`
	CourseID     string  `json:"course-id"`
	AssignmentID string  `json:"assignment-id"`
	User         string  `json:"user"`
	Score        float64 `json:"score"`
	GradingStart *int64  `json:"grading-start-time,omitempty"`
	GradingEnd   *int64  `json:"grading-end-time,omitempty"`
}

// GroupSet is a course group category, optionally bound to an assignment.
type GroupSet struct {
	ID           string  `json:"id"`
	CanonicalID  ID      `json:"canonical-id"`
	Name         string  `json:"name"`
	CourseID     string  `json:"course-id"`
	AssignmentID string  `json:"assignment-id,omitempty"`
	Groups       []Group `json:"groups"`
}

type Group struct {
	ID          string   `json:"id"`
	CanonicalID ID       `json:"canonical-id"`
	Name        string   `json:"name"`
	Members     []string `json:"members,omitempty"`
}

// Dataset is the complete canonical fixture set.
type Dataset struct {
	Principals  map[string]*Principal             // by name
	Courses     map[string]*Course                // by logical id
	Assignments map[string]map[string]*Assignment // by course id, then assignment id
	Submissions []*Submission                     // file order
	GroupSets   []*GroupSet                       // file order
}

// PrincipalNames returns all principal names, sorted.
func (d *Dataset) PrincipalNames() []string {
	return sortedKeys(d.Principals)
}

// CourseIDs returns all logical course ids, sorted.
func (d *Dataset) CourseIDs() []string {
	return sortedKeys(d.Courses)
}

// AssignmentList returns every assignment ordered by course id then
// assignment id.
func (d *Dataset) AssignmentList() []*Assignment {
	var out []*Assignment
	for _, courseID := range sortedKeys(d.Assignments) {
		byID := d.Assignments[courseID]
		for _, id := range sortedKeys(byID) {
			out = append(out, byID[id])
		}
	}
	return out
}

// Assignment looks up an assignment by course and assignment id.
func (d *Dataset) Assignment(courseID, assignmentID string) (*Assignment, bool) {
	a, ok := d.Assignments[courseID][assignmentID]
	return a, ok
}

// ResolvePrincipal finds a principal by name, by email, or by the local
// part of an email address.
func (d *Dataset) ResolvePrincipal(ref string) (*Principal, bool) {
	if p, ok := d.Principals[ref]; ok {
		return p, true
	}
	for _, name := range d.PrincipalNames() {
		if d.Principals[name].Email == ref {
			return d.Principals[name], true
		}
	}
	if local, _, found := strings.Cut(ref, "@"); found {
		p, ok := d.Principals[local]
		return p, ok
	}
	return nil, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
