// Package lms talks to the remote learning-management system.
//
// Three pieces live here:
//   - Gate polls the server until it answers (the readiness gate).
//   - Authenticator walks the session login form once per principal and
//     exchanges it for a bearer token.
//   - Client issues authenticated form-encoded API calls and decodes the
//     JSON replies.
//
// Every response is requested with string-typed ids so large numeric ids
// survive the JSON round trip.
package lms

import (
	"context"
	"time"
)

// AcceptHeader asks the LMS to render numeric ids as JSON strings.
const AcceptHeader = "application/json+canvas-string-ids"

// Sleeper pauses for d or until ctx is done. Tests substitute a no-op.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
