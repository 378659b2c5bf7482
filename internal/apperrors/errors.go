package apperrors

import (
	"errors"
	"fmt"
)

// RetryableError marks a failure that may clear on redelivery, such as a
// transient database fault. The ingestion layer NAKs events whose error
// chain contains one; everything else is terminal.
type RetryableError struct {
	Err error
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err as a RetryableError with a formatted message,
// keeping the original error in the chain for errors.Is checks.
func NewRetryable(err error, message string, args ...interface{}) error {
	format := message + ": %w"
	allArgs := append(args, err)
	return &RetryableError{Err: fmt.Errorf(format, allArgs...)}
}

// Sentinel errors raised by the storage layer and the admin operations.
// Callers check them with errors.Is; the storage layer may additionally
// wrap them in RetryableError.
var (
	// ErrNotFound indicates a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
	// ErrDatabase indicates a general database interaction error.
	ErrDatabase = errors.New("database error")
	// ErrDuplicate indicates a unique-constraint conflict.
	ErrDuplicate = errors.New("duplicate resource")
	// ErrBadRequest indicates a malformed or invalid request from the caller.
	ErrBadRequest = errors.New("bad request")
)

// IsRetryable checks if the error is a RetryableError or wraps one.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// IsNotFoundError checks if the error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsBadRequestError checks if the error is or wraps ErrBadRequest.
func IsBadRequestError(err error) bool {
	return errors.Is(err, ErrBadRequest)
}
