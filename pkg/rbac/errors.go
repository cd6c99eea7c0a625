package rbac

import (
	"fmt"
	"strings"
)

// ValidationError reports a malformed request, such as a role referencing
// permission codes outside the vocabulary or a missing required field.
type ValidationError struct {
	Message      string
	InvalidCodes []string
}

func (e *ValidationError) Error() string {
	if len(e.InvalidCodes) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.InvalidCodes, ", "))
	}
	return e.Message
}

// NewValidationError builds a ValidationError with a plain message.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports that a referenced entity does not exist.
type NotFoundError struct {
	Kind string
	ID   int64
	Code string
}

func (e *NotFoundError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s not found: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s not found: %d", e.Kind, e.ID)
}

// ConflictError reports a mutation blocked by existing state, such as
// deleting a role that users still hold without naming a replacement.
type ConflictError struct {
	Message         string
	AffectedUserIDs []int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s (%d affected users)", e.Message, len(e.AffectedUserIDs))
}

// StorageError wraps a failure of the backing store. Authorization checks
// treat it as a denial; the HTTP layer surfaces it as 503.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// wrapStorage wraps err as a StorageError unless it already carries one of
// the engine's typed errors.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *ValidationError, *NotFoundError, *ConflictError, *StorageError:
		return err
	}
	return &StorageError{Op: op, Err: err}
}
