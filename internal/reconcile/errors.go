package reconcile

import (
	"errors"
	"fmt"
)

// StoreIOError is a read or write against a store that failed for one project,
// after retries. It never aborts the processing of other projects.
type StoreIOError struct {
	ProjectID string
	Op        string
	Err       error
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("project %s: %s: %v", e.ProjectID, e.Op, e.Err)
}

func (e *StoreIOError) Unwrap() error { return e.Err }

// PreconditionError rejects a call outright: an unknown project, an empty
// identifier, or a report that did not come out of AnalyzeProject.
type PreconditionError struct {
	ProjectID string
	Reason    string
	Err       error
}

func (e *PreconditionError) Error() string {
	msg := e.Reason
	if e.ProjectID != "" {
		msg = fmt.Sprintf("project %s: %s", e.ProjectID, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// IsPrecondition reports whether err wraps a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// IsStoreIO reports whether err wraps a StoreIOError.
func IsStoreIO(err error) bool {
	var se *StoreIOError
	return errors.As(err, &se)
}
