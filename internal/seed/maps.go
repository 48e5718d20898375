package seed

import "fmt"

// enrollmentTypes maps fixture course roles to LMS enrollment types.
var enrollmentTypes = map[string]string{
	"other":   "ObserverEnrollment",
	"student": "StudentEnrollment",
	"grader":  "TaEnrollment",
	"admin":   "TaEnrollment",
	"owner":   "TeacherEnrollment",
}

// submissionTypes maps fixture assignment types to LMS submission types.
var submissionTypes = map[string]string{
	"autograder": "none",
	"upload":     "online_upload",
	"text":       "online_text_entry",
}

// EnrollmentType returns the LMS enrollment type for a course role.
func EnrollmentType(role string) (string, error) {
	t, ok := enrollmentTypes[role]
	if !ok {
		return "", fmt.Errorf("%w: unknown course role %q", ErrInvalidDataset, role)
	}
	return t, nil
}

// SubmissionType returns the LMS submission type for an assignment type.
func SubmissionType(kind string) (string, error) {
	t, ok := submissionTypes[kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown assignment type %q", ErrInvalidDataset, kind)
	}
	return t, nil
}
