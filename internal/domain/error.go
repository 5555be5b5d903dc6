package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrValidation      = errors.New("validation failed")
	ErrUnauthorized    = errors.New("unauthorized")

	// Ledger
	ErrInsufficientFunds = errors.New("insufficient funds")

	// Job lifecycle
	ErrInvalidTransition   = errors.New("invalid job status transition")
	ErrConcurrencyConflict = errors.New("concurrent update lost the race")
	ErrCancelNotAllowed    = errors.New("job can no longer be cancelled")
	ErrProviderFailure     = errors.New("provider reported failure")
	ErrExpired             = errors.New("job expired without a completion signal")
	ErrRateLimited         = errors.New("rate limit exceeded")

	// Dispatch classes, see DispatchError.
	ErrDispatchRetryable = errors.New("retryable dispatch error")
	ErrDispatchFatal     = errors.New("fatal dispatch error")

	// Event ingestion
	ErrDuplicateEvent   = errors.New("event already processed")
	ErrMalformedPayload = errors.New("malformed payload")

	// Storage plumbing
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")
)

// DispatchError carries the retryable/fatal classification of a provider call.
type DispatchError struct {
	Provider  string
	Retryable bool
	Status    int // HTTP status when known, 0 otherwise
	Err       error
}

func (e *DispatchError) Error() string {
	class := "fatal"
	if e.Retryable {
		class = "retryable"
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s dispatch error from %s (http %d): %v", class, e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s dispatch error from %s: %v", class, e.Provider, e.Err)
}

func (e *DispatchError) Unwrap() []error {
	if e.Retryable {
		return []error{ErrDispatchRetryable, e.Err}
	}
	return []error{ErrDispatchFatal, e.Err}
}

func RetryableDispatch(provider string, status int, err error) *DispatchError {
	return &DispatchError{Provider: provider, Retryable: true, Status: status, Err: err}
}

func FatalDispatch(provider string, status int, err error) *DispatchError {
	return &DispatchError{Provider: provider, Retryable: false, Status: status, Err: err}
}

// IsRetryable reports whether err is a dispatch error worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDispatchRetryable)
}
