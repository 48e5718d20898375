package lms

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by the readiness gate once every probe attempt has
// failed.
var ErrNotReady = errors.New("LMS did not become ready")

// ErrNoToken is returned when a request is issued for a principal that has
// not yet been through the login flow.
var ErrNoToken = errors.New("principal does not yet have an API token")

// AuthBootstrapError reports a failure in the session login flow. Step names
// the round trip that failed: "login page", "login" or "token".
type AuthBootstrapError struct {
	Principal string
	Step      string
	Reason    string
	Err       error
}

func (e *AuthBootstrapError) Error() string {
	msg := fmt.Sprintf("auth bootstrap for %q failed at %s: %s", e.Principal, e.Step, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthBootstrapError) Unwrap() error {
	return e.Err
}

// APIError is a non-success response from the REST API.
type APIError struct {
	Method   string
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Endpoint, e.Status, e.Body)
}

// IsStatus returns true if err is an *APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == status
	}
	return false
}
