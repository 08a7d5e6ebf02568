package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrAccountNotFound    = errors.New("credit account not found")
	ErrStateConflict      = errors.New("job state conflict")
	ErrUnknownReservation = errors.New("unknown reservation")
	ErrProviderFailure    = errors.New("provider failure")
	ErrEmptyResult        = errors.New("provider returned empty result")
	ErrCapacityExhausted  = errors.New("capacity exhausted")
	ErrNotRetryable       = errors.New("job is not retryable")
)

// ValidationError reports a caller-side input problem on a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Message)
}

// Unwrap lets callers match validation failures with errors.Is(err, ErrInvalidInput).
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// IsIntegrity reports whether err signals an internal consistency violation
// that must halt processing of the affected job.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrUnknownReservation)
}
