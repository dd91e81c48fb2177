// Package apperr holds the error kinds shared by the task manager's stores,
// clients and services. Callers wrap them with fmt.Errorf("...: %w") and match
// them with errors.Is.
package apperr

import "errors"

var (
	// ErrNotFound is returned when a referenced Task or ScheduledTask does not
	// exist, or belongs to another owner.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for requests that fail validation before any
	// state is touched.
	ErrInvalidInput = errors.New("invalid input")

	// ErrGenerationFailed is returned when the script generator call fails or
	// returns a payload without a usable script.
	ErrGenerationFailed = errors.New("script generation failed")

	// ErrExecutionFailed marks a runner call that failed or reported a failed run.
	ErrExecutionFailed = errors.New("script execution failed")

	// ErrTimeout marks a runner call that exceeded the execution budget.
	ErrTimeout = errors.New("script execution timed out")

	// ErrInvalidStateForEdit is returned when a non-pending ScheduledTask is edited.
	ErrInvalidStateForEdit = errors.New("scheduled task can only be edited while pending")

	// ErrTransitionConflict means a compare-and-set lost the race: the entry
	// already left the expected status.
	ErrTransitionConflict = errors.New("scheduled task is no longer in the expected status")
)
