// Package fixture reads the canonical dataset the seeder realises: principals,
// courses, assignments, submissions and groups. Every file is checked against
// an embedded JSON Schema before decoding, and cross references are resolved
// at load time so the orchestrator never meets a dangling name.
package fixture

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/unicode/norm"
)

// Fixture file names inside the data directory.
const (
	UsersFile       = "users.json"
	CoursesFile     = "courses.json"
	AssignmentsFile = "assignments.json"
	SubmissionsFile = "submissions.json"
	GroupsFile      = "groups.json"
)

const schemaBase = "https://github.com/roach88/lmsseed/schemas/"

//go:embed schemas/*.json
var schemaFS embed.FS

// ValidationError reports a fixture problem: a schema violation, a dangling
// reference or a duplicate key.
type ValidationError struct {
	File    string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.File, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(file, format string, args ...any) *ValidationError {
	return &ValidationError{File: file, Message: fmt.Sprintf(format, args...)}
}

// Load reads and validates the dataset in dir. groups.json is optional.
func Load(dir string) (*Dataset, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	var users []*Principal
	if err := loadFile(dir, UsersFile, schemas, &users, false); err != nil {
		return nil, err
	}
	var courses []*Course
	if err := loadFile(dir, CoursesFile, schemas, &courses, false); err != nil {
		return nil, err
	}
	var assignments map[string][]*Assignment
	if err := loadFile(dir, AssignmentsFile, schemas, &assignments, false); err != nil {
		return nil, err
	}
	var submissions []*Submission
	if err := loadFile(dir, SubmissionsFile, schemas, &submissions, false); err != nil {
		return nil, err
	}
	var groupSets []*GroupSet
	if err := loadFile(dir, GroupsFile, schemas, &groupSets, true); err != nil {
		return nil, err
	}

	return build(users, courses, assignments, submissions, groupSets)
}

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}
	for _, entry := range entries {
		f, err := schemaFS.Open("schemas/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("open schema %s: %w", entry.Name(), err)
		}
		err = compiler.AddResource(schemaBase+entry.Name(), f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", entry.Name(), err)
		}
	}

	schemas := make(map[string]*jsonschema.Schema)
	for _, file := range []string{UsersFile, CoursesFile, AssignmentsFile, SubmissionsFile, GroupsFile} {
		name := schemaName(file)
		schema, err := compiler.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		schemas[file] = schema
	}
	return schemas, nil
}

func schemaName(file string) string {
	return file[:len(file)-len(filepath.Ext(file))] + ".schema.json"
}

// loadFile validates dir/file against its schema and decodes it into out.
// A missing optional file leaves out untouched.
func loadFile(dir, file string, schemas map[string]*jsonschema.Schema, out any, optional bool) error {
	raw, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &ValidationError{File: file, Message: "cannot read fixture file", Err: err}
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &ValidationError{File: file, Message: "malformed JSON", Err: err}
	}
	if err := schemas[file].Validate(doc); err != nil {
		return &ValidationError{File: file, Message: "schema violation", Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ValidationError{File: file, Message: "cannot decode", Err: err}
	}
	return nil
}

func build(users []*Principal, courses []*Course, assignments map[string][]*Assignment,
	submissions []*Submission, groupSets []*GroupSet) (*Dataset, error) {
	d := &Dataset{
		Principals:  make(map[string]*Principal, len(users)),
		Courses:     make(map[string]*Course, len(courses)),
		Assignments: make(map[string]map[string]*Assignment, len(assignments)),
		Submissions: submissions,
		GroupSets:   groupSets,
	}

	userIDs := make(map[ID]string)
	for _, p := range users {
		p.Name = norm.NFC.String(p.Name)
		p.Email = norm.NFC.String(p.Email)
		if _, dup := d.Principals[p.Name]; dup {
			return nil, invalid(UsersFile, "duplicate principal %q", p.Name)
		}
		if other, dup := userIDs[p.CanonicalID]; dup {
			return nil, invalid(UsersFile, "principals %q and %q share canonical id %s", other, p.Name, p.CanonicalID)
		}
		userIDs[p.CanonicalID] = p.Name
		d.Principals[p.Name] = p
	}

	courseIDs := make(map[ID]string)
	for _, c := range courses {
		c.Name = norm.NFC.String(c.Name)
		if _, dup := d.Courses[c.ID]; dup {
			return nil, invalid(CoursesFile, "duplicate course %q", c.ID)
		}
		if other, dup := courseIDs[c.CanonicalID]; dup {
			return nil, invalid(CoursesFile, "courses %q and %q share canonical id %s", other, c.ID, c.CanonicalID)
		}
		courseIDs[c.CanonicalID] = c.ID
		d.Courses[c.ID] = c
	}

	for _, name := range d.PrincipalNames() {
		for _, courseID := range d.Principals[name].CourseIDs() {
			if _, ok := d.Courses[courseID]; !ok {
				return nil, invalid(UsersFile, "principal %q is enrolled in unknown course %q", name, courseID)
			}
		}
	}

	assignmentIDs := make(map[ID]string)
	for courseID, list := range assignments {
		if _, ok := d.Courses[courseID]; !ok {
			return nil, invalid(AssignmentsFile, "assignments for unknown course %q", courseID)
		}
		byID := make(map[string]*Assignment, len(list))
		for _, a := range list {
			a.CourseID = courseID
			a.Name = norm.NFC.String(a.Name)
			if _, dup := byID[a.ID]; dup {
				return nil, invalid(AssignmentsFile, "duplicate assignment %q in course %q", a.ID, courseID)
			}
			key := courseID + "/" + a.ID
			if other, dup := assignmentIDs[a.CanonicalID]; dup {
				return nil, invalid(AssignmentsFile, "assignments %q and %q share canonical id %s", other, key, a.CanonicalID)
			}
			assignmentIDs[a.CanonicalID] = key
			byID[a.ID] = a
		}
		d.Assignments[courseID] = byID
	}

	for i, s := range submissions {
		if _, ok := d.Assignment(s.CourseID, s.AssignmentID); !ok {
			return nil, invalid(SubmissionsFile, "submission %d (%s) references unknown assignment %s/%s", i, s.ID, s.CourseID, s.AssignmentID)
		}
		s.User = norm.NFC.String(s.User)
		if _, ok := d.ResolvePrincipal(s.User); !ok {
			return nil, invalid(SubmissionsFile, "submission %d (%s) references unknown user %q", i, s.ID, s.User)
		}
	}

	setIDs := make(map[ID]string)
	groupIDs := make(map[ID]string)
	for _, gs := range groupSets {
		gs.Name = norm.NFC.String(gs.Name)
		if _, ok := d.Courses[gs.CourseID]; !ok {
			return nil, invalid(GroupsFile, "group set %q references unknown course %q", gs.ID, gs.CourseID)
		}
		if gs.AssignmentID != "" {
			if _, ok := d.Assignment(gs.CourseID, gs.AssignmentID); !ok {
				return nil, invalid(GroupsFile, "group set %q references unknown assignment %s/%s", gs.ID, gs.CourseID, gs.AssignmentID)
			}
		}
		if other, dup := setIDs[gs.CanonicalID]; dup {
			return nil, invalid(GroupsFile, "group sets %q and %q share canonical id %s", other, gs.ID, gs.CanonicalID)
		}
		setIDs[gs.CanonicalID] = gs.ID

		for i := range gs.Groups {
			g := &gs.Groups[i]
			g.Name = norm.NFC.String(g.Name)
			if other, dup := groupIDs[g.CanonicalID]; dup {
				return nil, invalid(GroupsFile, "groups %q and %q share canonical id %s", other, g.ID, g.CanonicalID)
			}
			groupIDs[g.CanonicalID] = g.ID
			for j, member := range g.Members {
				member = norm.NFC.String(member)
				if _, ok := d.ResolvePrincipal(member); !ok {
					return nil, invalid(GroupsFile, "group %q has unknown member %q", g.ID, member)
				}
				g.Members[j] = member
			}
		}
	}

	return d, nil
}
