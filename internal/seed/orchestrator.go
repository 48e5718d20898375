package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/roach88/lmsseed/internal/config"
	"github.com/roach88/lmsseed/internal/fixture"
	"github.com/roach88/lmsseed/internal/journal"
	"github.com/roach88/lmsseed/internal/lms"
	"github.com/roach88/lmsseed/internal/remap"
)

// ErrInvalidDataset means the dataset cannot be seeded with the current
// configuration, e.g. the bootstrap principal is missing.
var ErrInvalidDataset = errors.New("invalid dataset")

// Stage names, in execution order.
const (
	StageBootstrapIdentity = "bootstrap-identity"
	StageBootstrapToken    = "bootstrap-token"
	StageUsers             = "users"
	StageTokens            = "tokens"
	StageCourses           = "courses"
	StageEnrollments       = "enrollments"
	StageAssignments       = "assignments"
	StageSubmissions       = "submissions"
	StageGroups            = "groups"
	StageCredentials       = "credentials"
)

// Stages returns every stage name in execution order.
func Stages() []string {
	return []string{
		StageBootstrapIdentity, StageBootstrapToken, StageUsers, StageTokens,
		StageCourses, StageEnrollments, StageAssignments, StageSubmissions,
		StageGroups, StageCredentials,
	}
}

// Authenticator mints API tokens.
type Authenticator interface {
	IssueCredential(ctx context.Context, p *lms.Principal) (string, error)
}

// API issues create and update calls.
type API interface {
	Post(ctx context.Context, p *lms.Principal, endpoint string, form url.Values) (lms.Body, error)
	Put(ctx context.Context, p *lms.Principal, endpoint string, form url.Values) (lms.Body, error)
}

// Remapper forces canonical ids in the backing store.
type Remapper interface {
	Remap(ctx context.Context, kind remap.Kind, oldID, newID int64) error
	CorrectSubmission(ctx context.Context, fix remap.SubmissionFix) error
}

// CredentialNormalizer pins tokens to canonical values.
type CredentialNormalizer interface {
	Check(names []string) error
	Normalize(ctx context.Context, name string, userID int64) error
}

// Recorder receives one entry per realised entity.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Options are the fixed ids and principal roles of a run.
type Options struct {
	RootAccountID      int64
	BootstrapPrincipal string
	BootstrapUserID    int64
	BootstrapAccountID int64
	CoursePrincipal    string // courses are created in this principal's account
	GradingPrincipal   string // submissions are posted as this principal
}

// OptionsFromConfig extracts the run options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RootAccountID:      cfg.RootAccountID,
		BootstrapPrincipal: cfg.BootstrapPrincipal,
		BootstrapUserID:    cfg.BootstrapUserID,
		BootstrapAccountID: cfg.BootstrapAccountID,
		CoursePrincipal:    cfg.CoursePrincipal,
		GradingPrincipal:   cfg.GradingPrincipal,
	}
}

// Deps are the collaborators of an Orchestrator. Recorder and Logger are
// optional.
type Deps struct {
	Auth        Authenticator
	API         API
	Remap       Remapper
	Credentials CredentialNormalizer
	Recorder    Recorder
	Logger      *slog.Logger
}

// Result summarises a completed run.
type Result struct {
	Principals map[string]*lms.Principal
	Counts     map[string]int // realised entities per stage
}

// Orchestrator drives one seeding run. It is single-use and not safe for
// concurrent use.
type Orchestrator struct {
	opts   Options
	deps   Deps
	logger *slog.Logger

	data        *fixture.Dataset
	principals  map[string]*lms.Principal
	courses     map[string]int64 // logical course id -> canonical id
	assignments map[string]int64 // "course/assignment" -> canonical id
	counts      map[string]int
}

// New returns an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{opts: opts, deps: deps, logger: logger}
}

// Run realises data. The first error aborts the run.
func (o *Orchestrator) Run(ctx context.Context, data *fixture.Dataset) (*Result, error) {
	o.data = data
	o.principals = make(map[string]*lms.Principal, len(data.Principals))
	o.courses = make(map[string]int64, len(data.Courses))
	o.assignments = make(map[string]int64)
	o.counts = make(map[string]int)

	if err := o.preflight(); err != nil {
		return nil, err
	}

	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StageBootstrapIdentity, o.bootstrapIdentity},
		{StageBootstrapToken, o.bootstrapToken},
		{StageUsers, o.addUsers},
		{StageTokens, o.issueTokens},
		{StageCourses, o.addCourses},
		{StageEnrollments, o.addEnrollments},
		{StageAssignments, o.addAssignments},
		{StageSubmissions, o.addSubmissions},
		{StageGroups, o.addGroups},
		{StageCredentials, o.normalizeCredentials},
	}
	for _, stage := range stages {
		o.logger.Info("stage started", "stage", stage.name)
		if err := stage.fn(ctx); err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.name, err)
		}
		o.logger.Debug("stage finished", "stage", stage.name, "entities", o.counts[stage.name])
	}

	return &Result{Principals: o.principals, Counts: o.counts}, nil
}

// preflight rejects datasets that would fail part-way through a run.
func (o *Orchestrator) preflight() error {
	for _, name := range []string{o.opts.BootstrapPrincipal, o.opts.CoursePrincipal, o.opts.GradingPrincipal} {
		if _, ok := o.data.Principals[name]; !ok {
			return fmt.Errorf("%w: principal %q is not in the dataset", ErrInvalidDataset, name)
		}
	}
	for _, name := range o.data.PrincipalNames() {
		for _, courseID := range o.data.Principals[name].CourseIDs() {
			if _, err := EnrollmentType(o.data.Principals[name].Courses[courseID].Role); err != nil {
				return fmt.Errorf("principal %q in %q: %w", name, courseID, err)
			}
		}
	}
	for _, a := range o.data.AssignmentList() {
		if _, err := SubmissionType(a.Type); err != nil {
			return fmt.Errorf("assignment %s/%s: %w", a.CourseID, a.ID, err)
		}
	}
	return o.deps.Credentials.Check(o.data.PrincipalNames())
}

func (o *Orchestrator) record(ctx context.Context, stage string, kind remap.Kind, name string, remoteID, canonicalID int64) error {
	o.counts[stage]++
	if o.deps.Recorder == nil {
		return nil
	}
	return o.deps.Recorder.Record(ctx, journal.Entry{
		Stage:       stage,
		Kind:        string(kind),
		Name:        name,
		RemoteID:    remoteID,
		CanonicalID: canonicalID,
	})
}

func newPrincipal(p *fixture.Principal) *lms.Principal {
	return &lms.Principal{Name: p.Name, Login: p.Login(), Password: p.Password}
}

func (o *Orchestrator) bootstrap() *lms.Principal {
	return o.principals[o.opts.BootstrapPrincipal]
}

// bootstrapIdentity moves the pre-provisioned user to its canonical id.
func (o *Orchestrator) bootstrapIdentity(ctx context.Context) error {
	fp := o.data.Principals[o.opts.BootstrapPrincipal]
	p := newPrincipal(fp)
	p.AccountID = o.opts.BootstrapAccountID
	p.UserID = o.opts.BootstrapUserID
	o.principals[p.Name] = p

	canonical := fp.CanonicalID.Int64()
	if err := o.deps.Remap.Remap(ctx, remap.User, p.UserID, canonical); err != nil {
		return err
	}
	remote := p.UserID
	p.UserID = canonical
	return o.record(ctx, StageBootstrapIdentity, remap.User, p.Name, remote, canonical)
}

func (o *Orchestrator) bootstrapToken(ctx context.Context) error {
	if _, err := o.deps.Auth.IssueCredential(ctx, o.bootstrap()); err != nil {
		return err
	}
	o.counts[StageBootstrapToken]++
	return nil
}

func (o *Orchestrator) addUsers(ctx context.Context) error {
	owner := o.bootstrap()
	for _, name := range o.data.PrincipalNames() {
		if name == o.opts.BootstrapPrincipal {
			continue
		}
		fp := o.data.Principals[name]
		p := newPrincipal(fp)

		body, err := o.deps.API.Post(ctx, owner, fmt.Sprintf("accounts/%d/sub_accounts", o.opts.RootAccountID), subAccountForm(fp))
		if err != nil {
			return err
		}
		if p.AccountID, err = body.ID("id"); err != nil {
			return fmt.Errorf("create account for %q: %w", name, err)
		}

		body, err = o.deps.API.Post(ctx, owner, fmt.Sprintf("accounts/%d/users", p.AccountID), userForm(fp))
		if err != nil {
			return err
		}
		remote, err := body.ID("id")
		if err != nil {
			return fmt.Errorf("create user %q: %w", name, err)
		}

		canonical := fp.CanonicalID.Int64()
		if err := o.deps.Remap.Remap(ctx, remap.User, remote, canonical); err != nil {
			return err
		}
		p.UserID = canonical
		o.principals[name] = p

		o.logger.Debug("user realised", "principal", name, "account_id", p.AccountID, "user_id", canonical)
		if err := o.record(ctx, StageUsers, remap.User, name, remote, canonical); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) issueTokens(ctx context.Context) error {
	for _, name := range o.data.PrincipalNames() {
		if name == o.opts.BootstrapPrincipal {
			continue
		}
		if _, err := o.deps.Auth.IssueCredential(ctx, o.principals[name]); err != nil {
			return err
		}
		o.counts[StageTokens]++
	}
	return nil
}

func (o *Orchestrator) addCourses(ctx context.Context) error {
	owner := o.bootstrap()
	accountID := o.principals[o.opts.CoursePrincipal].AccountID
	for _, id := range o.data.CourseIDs() {
		c := o.data.Courses[id]
		body, err := o.deps.API.Post(ctx, owner, fmt.Sprintf("accounts/%d/courses", accountID), courseForm(c))
		if err != nil {
			return err
		}
		remote, err := body.ID("id")
		if err != nil {
			return fmt.Errorf("create course %q: %w", id, err)
		}

		canonical := c.CanonicalID.Int64()
		if err := o.deps.Remap.Remap(ctx, remap.Course, remote, canonical); err != nil {
			return err
		}
		o.courses[id] = canonical
		if err := o.record(ctx, StageCourses, remap.Course, id, remote, canonical); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) addEnrollments(ctx context.Context) error {
	owner := o.bootstrap()
	for _, name := range o.data.PrincipalNames() {
		fp := o.data.Principals[name]
		for _, courseID := range fp.CourseIDs() {
			enrollmentType, err := EnrollmentType(fp.Courses[courseID].Role)
			if err != nil {
				return err
			}
			endpoint := fmt.Sprintf("courses/%d/enrollments", o.courses[courseID])
			body, err := o.deps.API.Post(ctx, owner, endpoint, enrollmentForm(o.principals[name].UserID, enrollmentType))
			if err != nil {
				return err
			}
			remote, err := body.ID("id")
			if err != nil {
				return fmt.Errorf("enroll %q in %q: %w", name, courseID, err)
			}
			if err := o.record(ctx, StageEnrollments, "enrollment", name+"@"+courseID, remote, remote); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) addAssignments(ctx context.Context) error {
	owner := o.bootstrap()
	for _, a := range o.data.AssignmentList() {
		submissionType, err := SubmissionType(a.Type)
		if err != nil {
			return err
		}
		endpoint := fmt.Sprintf("courses/%d/assignments", o.courses[a.CourseID])
		body, err := o.deps.API.Post(ctx, owner, endpoint, assignmentForm(a, submissionType))
		if err != nil {
			return err
		}
		remote, err := body.ID("id")
		if err != nil {
			return fmt.Errorf("create assignment %s/%s: %w", a.CourseID, a.ID, err)
		}

		canonical := a.CanonicalID.Int64()
		if err := o.deps.Remap.Remap(ctx, remap.Assignment, remote, canonical); err != nil {
			return err
		}
		key := a.CourseID + "/" + a.ID
		o.assignments[key] = canonical
		if err := o.record(ctx, StageAssignments, remap.Assignment, key, remote, canonical); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) addSubmissions(ctx context.Context) error {
	grader := o.principals[o.opts.GradingPrincipal]
	for _, s := range o.data.Submissions {
		fp, _ := o.data.ResolvePrincipal(s.User)
		userID := o.principals[fp.Name].UserID
		courseID := o.courses[s.CourseID]
		assignmentID := o.assignments[s.CourseID+"/"+s.AssignmentID]

		endpoint := fmt.Sprintf("courses/%d/assignments/%d/submissions/%d", courseID, assignmentID, userID)
		body, err := o.deps.API.Put(ctx, grader, endpoint, submissionForm(s))
		if err != nil {
			return err
		}
		remote, err := body.ID("id")
		if err != nil {
			return fmt.Errorf("grade submission %q: %w", s.ID, err)
		}

		fix := remap.SubmissionFix{
			AssignmentID: assignmentID,
			UserID:       userID,
			GradingStart: s.GradingStart,
			GradingEnd:   s.GradingEnd,
			NewID:        s.CanonicalID.Int64(),
		}
		if err := o.deps.Remap.CorrectSubmission(ctx, fix); err != nil {
			return err
		}

		canonical := remote
		if fix.NewID != 0 {
			canonical = fix.NewID
		}
		if err := o.record(ctx, StageSubmissions, remap.Submission, s.ID, remote, canonical); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) addGroups(ctx context.Context) error {
	owner := o.bootstrap()
	for _, gs := range o.data.GroupSets {
		courseID := o.courses[gs.CourseID]
		body, err := o.deps.API.Post(ctx, owner, fmt.Sprintf("courses/%d/group_categories", courseID), groupSetForm(gs))
		if err != nil {
			return err
		}
		remote, err := body.ID("id")
		if err != nil {
			return fmt.Errorf("create group set %q: %w", gs.ID, err)
		}
		setID := gs.CanonicalID.Int64()
		if err := o.deps.Remap.Remap(ctx, remap.GroupSet, remote, setID); err != nil {
			return err
		}
		if err := o.record(ctx, StageGroups, remap.GroupSet, gs.ID, remote, setID); err != nil {
			return err
		}

		if gs.AssignmentID != "" {
			assignmentID := o.assignments[gs.CourseID+"/"+gs.AssignmentID]
			endpoint := fmt.Sprintf("courses/%d/assignments/%d", courseID, assignmentID)
			if _, err := o.deps.API.Put(ctx, owner, endpoint, groupCategoryForm(setID)); err != nil {
				return err
			}
		}

		for i := range gs.Groups {
			if err := o.addGroup(ctx, owner, setID, &gs.Groups[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) addGroup(ctx context.Context, owner *lms.Principal, setID int64, g *fixture.Group) error {
	body, err := o.deps.API.Post(ctx, owner, fmt.Sprintf("group_categories/%d/groups", setID), groupForm(g))
	if err != nil {
		return err
	}
	remote, err := body.ID("id")
	if err != nil {
		return fmt.Errorf("create group %q: %w", g.ID, err)
	}
	groupID := g.CanonicalID.Int64()
	if err := o.deps.Remap.Remap(ctx, remap.Group, remote, groupID); err != nil {
		return err
	}
	if err := o.record(ctx, StageGroups, remap.Group, g.ID, remote, groupID); err != nil {
		return err
	}

	for _, member := range g.Members {
		fp, _ := o.data.ResolvePrincipal(member)
		userID := o.principals[fp.Name].UserID
		if _, err := o.deps.API.Post(ctx, owner, fmt.Sprintf("groups/%d/memberships", groupID), membershipForm(userID)); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) normalizeCredentials(ctx context.Context) error {
	for _, name := range o.data.PrincipalNames() {
		if err := o.deps.Credentials.Normalize(ctx, name, o.principals[name].UserID); err != nil {
			return err
		}
		o.counts[StageCredentials]++
	}
	return nil
}
