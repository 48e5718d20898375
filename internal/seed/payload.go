package seed

import (
	"net/url"
	"strconv"

	"github.com/roach88/lmsseed/internal/fixture"
	"github.com/roach88/lmsseed/internal/remap"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func subAccountForm(p *fixture.Principal) url.Values {
	return url.Values{
		"account[name]":           {p.Name},
		"account[sis_account_id]": {p.Login()},
	}
}

func userForm(p *fixture.Principal) url.Values {
	return url.Values{
		"user[name]":                         {p.Name},
		"user[short_name]":                   {p.Name},
		"user[sortable_name]":                {p.Name},
		"user[terms_of_use]":                 {"true"},
		"user[skip_registration]":            {"true"},
		"pseudonym[unique_id]":               {p.Login()},
		"pseudonym[password]":                {p.Password},
		"pseudonym[sis_user_id]":             {p.Login()},
		"pseudonym[integration_id]":          {p.Login()},
		"pseudonym[send_confirmation]":       {"false"},
		"pseudonym[force_self_registration]": {"false"},
		"force_validations":                  {"false"},
	}
}

func courseForm(c *fixture.Course) url.Values {
	form := url.Values{
		"course[name]":                            {c.Name},
		"course[course_code]":                     {c.ShortCode()},
		"course[is_public]":                       {"false"},
		"course[is_public_to_auth_users]":         {"false"},
		"course[public_syllabus]":                 {"false"},
		"course[public_syllabus_to_auth]":         {"false"},
		"course[allow_student_wiki_edits]":        {"false"},
		"course[allow_wiki_comments]":             {"false"},
		"course[allow_student_forum_attachments]": {"false"},
		"course[open_enrollment]":                 {"false"},
		"course[self_enrollment]":                 {"false"},
		"offer":                                   {"true"},
		"enroll_me":                               {"false"},
		"skip_course_template":                    {"true"},
	}
	if c.Syllabus != "" {
		form.Set("course[syllabus_body]", c.Syllabus)
	}
	return form
}

func enrollmentForm(userID int64, enrollmentType string) url.Values {
	return url.Values{
		"enrollment[user_id]":                            {formatID(userID)},
		"enrollment[type]":                               {enrollmentType},
		"enrollment[enrollment_state]":                   {"active"},
		"enrollment[limit_privileges_to_course_section]": {"false"},
		"enrollment[notify]":                             {"false"},
	}
}

func assignmentForm(a *fixture.Assignment, submissionType string) url.Values {
	return url.Values{
		"assignment[name]":                      {a.Name},
		"assignment[submission_types][]":        {submissionType},
		"assignment[turnitin_enabled]":          {"false"},
		"assignment[vericite_enabled]":          {"false"},
		"assignment[peer_reviews]":              {"false"},
		"assignment[automatic_peer_reviews]":    {"false"},
		"assignment[notify_of_update]":          {"false"},
		"assignment[points_possible]":           {formatFloat(a.MaxPoints)},
		"assignment[allowed_attempts]":          {"-1"},
		"assignment[grading_type]":              {"points"},
		"assignment[only_visible_to_overrides]": {"false"},
		"assignment[published]":                 {"true"},
		"assignment[quiz_lti]":                  {"false"},
		"assignment[moderated_grading]":         {"false"},
		"assignment[omit_from_final_grade]":     {"false"},
	}
}

func submissionForm(s *fixture.Submission) url.Values {
	form := url.Values{
		"submission[posted_grade]": {formatFloat(s.Score)},
		"comment[text_comment]":    {s.ID},
		"include[visibility]":      {"true"},
	}
	if s.GradingStart != nil {
		form.Set("submission[submitted_at]", remap.FormatMillis(*s.GradingStart))
	}
	return form
}

func groupSetForm(gs *fixture.GroupSet) url.Values {
	return url.Values{
		"name": {gs.Name},
	}
}

func groupCategoryForm(groupSetID int64) url.Values {
	return url.Values{
		"assignment[group_category_id]": {formatID(groupSetID)},
	}
}

func groupForm(g *fixture.Group) url.Values {
	return url.Values{
		"name":       {g.Name},
		"join_level": {"invitation_only"},
	}
}

func membershipForm(userID int64) url.Values {
	return url.Values{
		"user_id": {formatID(userID)},
	}
}
