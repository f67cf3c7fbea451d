// File: api/schemas/errors.go
package schemas

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every component. Callers match them with
// errors.Is after unwrapping.
var (
	// ErrNotFound is returned for operations on an unknown arm, task,
	// decision, or approval-request id. Unknown ids never silently no-op.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an operation is attempted on a
	// decision or task that is not in the required status.
	ErrInvalidState = errors.New("invalid state")

	// ErrDependencyUnmet indicates a task was dispatched before all of its
	// dependencies completed. The scheduler invariant makes this impossible;
	// seeing it means a bug, not a recoverable condition.
	ErrDependencyUnmet = errors.New("dependency unmet")

	// ErrDependencyCycle is returned when creating a task would introduce a
	// cycle in the dependency graph.
	ErrDependencyCycle = errors.New("dependency cycle")

	// ErrEmergencyStopped is returned when an operation is refused because
	// the emergency-stop circuit breaker is engaged.
	ErrEmergencyStopped = errors.New("emergency stopped")
)

// CollaboratorError wraps a failure from an external collaborator (content
// generator, renderer, compliance checker, publisher, approval gateway). It
// is caught at the task boundary, recorded through the LogSink, and fails
// only the task that raised it.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator %s failed: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// NewCollaboratorError wraps err with the name of the collaborator that
// produced it.
func NewCollaboratorError(collaborator string, err error) *CollaboratorError {
	return &CollaboratorError{Collaborator: collaborator, Err: err}
}
