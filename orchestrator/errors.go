package orchestrator

import (
	"errors"
	"fmt"
)

// ValidationError rejects a submission before any state is created. The
// message is returned verbatim to the caller.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func missingField(field string) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf("Missing required field: %s", field)}
}

func missingHyperparameter(key string) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf("Missing hyperparameter: %s", key)}
}

// StorageError wraps a failure in a storage dependency (registry or object
// store) during an operation that had passed validation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ErrServiceUnavailable is returned when a required backend is unreachable
// and the operation cannot be served at all.
var ErrServiceUnavailable = errors.New("service unavailable")
