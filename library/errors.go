package library

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage marks failures of the storage medium that callers cannot recover from locally.
	ErrStorage = errors.New("library: storage failure")

	// ErrUserExists is returned when creating an account whose username is taken.
	ErrUserExists = errors.New("library: username already exists")
)

// ValidationError reports structurally invalid input: blank fields, non-positive ids or counts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidationError reports whether err (or anything it wraps) is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
