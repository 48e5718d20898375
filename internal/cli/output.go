package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/lmsseed/internal/backing"
	"github.com/roach88/lmsseed/internal/credential"
	"github.com/roach88/lmsseed/internal/fixture"
	"github.com/roach88/lmsseed/internal/lms"
	"github.com/roach88/lmsseed/internal/seed"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Remote or store failure, failed verification
	ExitCommandError = 2 // Bad configuration, fixture or token table
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Error categories reported in JSON output.
const (
	CategoryConfig   = "config"
	CategoryFixture  = "fixture"
	CategoryNotReady = "not_ready"
	CategoryAuth     = "auth"
	CategoryAPI      = "api"
	CategoryStore    = "store"
	CategoryInternal = "internal"
)

// errInvalidConfig marks configuration that failed to load or validate.
var errInvalidConfig = errors.New("invalid configuration")

// Category classifies err by where it came from.
func Category(err error) string {
	var (
		validationErr *fixture.ValidationError
		tableErr      *credential.TableError
		authErr       *lms.AuthBootstrapError
		apiErr        *lms.APIError
		stmtErr       *backing.StatementError
	)
	switch {
	case errors.As(err, &validationErr), errors.Is(err, seed.ErrInvalidDataset):
		return CategoryFixture
	case errors.Is(err, errInvalidConfig), errors.As(err, &tableErr), errors.Is(err, credential.ErrUnknownPrincipal):
		return CategoryConfig
	case errors.Is(err, lms.ErrNotReady):
		return CategoryNotReady
	case errors.As(err, &authErr):
		return CategoryAuth
	case errors.As(err, &apiErr):
		return CategoryAPI
	case errors.As(err, &stmtErr):
		return CategoryStore
	default:
		return CategoryInternal
	}
}

// classify wraps err with the exit code of its category. Configuration and
// fixture problems are command errors; everything else is a failure. An
// existing exit code is kept.
func classify(message string, err error) *ExitError {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return WrapExitError(exitErr.Code, message, err)
	}
	switch Category(err) {
	case CategoryConfig, CategoryFixture:
		return WrapExitError(ExitCommandError, message, err)
	default:
		return WrapExitError(ExitFailure, message, err)
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
	RunID     string
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`           // "ok" or "error"
	Data   any       `json:"data,omitempty"`   // success payload
	Error  *CLIError `json:"error,omitempty"`  // error details
	RunID  string    `json:"run_id,omitempty"` // seeding run correlation
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Category string `json:"category"`          // see Category
	Message  string `json:"message"`           // human-readable message
	Details  any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
			RunID:  f.RunID,
		})
	}

	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs err in the configured format and returns it unchanged.
func (f *OutputFormatter) Error(err error, details any) error {
	category := Category(err)
	if f.Format == "json" {
		if encErr := json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Category: category,
				Message:  err.Error(),
				Details:  details,
			},
			RunID: f.RunID,
		}); encErr != nil {
			return encErr
		}
		return err
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %v\n", category, err)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return err
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
