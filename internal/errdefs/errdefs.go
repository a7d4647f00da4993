// Package errdefs holds the error taxonomy shared by the server store and
// the client cache.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a missing record id on update, delete or lookup.
	ErrNotFound = errors.New("record not found")
	// ErrValidation marks input rejected before any write, such as a
	// duplicate email or an order without a user id.
	ErrValidation = errors.New("validation failed")
	// ErrPersistence marks a failed write-verify-rename.
	ErrPersistence = errors.New("persistence failed")
	// ErrTransientNetwork marks an unreachable or timed out remote.
	ErrTransientNetwork = errors.New("remote unavailable")
	// ErrUnconfirmed marks a 2xx response without a success marker.
	ErrUnconfirmed = errors.New("remote response not confirmed")
	// ErrStockExhausted marks a quantity larger than the available stock.
	ErrStockExhausted = errors.New("insufficient stock")
)

// OpError describes which operation failed on which collection.
type OpError struct {
	Op         string
	Collection string
	ID         int
	Err        error
}

func (e *OpError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s %s[%d]: %v", e.Op, e.Collection, e.ID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Wrap builds an OpError. A nil err stays nil.
func Wrap(op, collection string, id int, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Collection: collection, ID: id, Err: err}
}

// ValidationError carries the reason input was rejected. It matches
// ErrValidation with errors.Is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validationf returns a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Reason returns the rejection reason of a validation error, or "".
func Reason(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsRetryable reports whether another remote attempt may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientNetwork)
}

// IsRejection reports whether the remote definitively refused the request,
// in which case nothing should be committed locally.
func IsRejection(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation)
}
