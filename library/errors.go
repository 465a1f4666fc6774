package library

import (
	"errors"
	"fmt"

	"librarydesk/access"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrForbidden         = access.ErrForbidden
	ErrNotFound          = errors.New("not found")
	ErrMemberBlacklisted = errors.New("member is blacklisted")
	ErrBookUnavailable   = errors.New("book unavailable")
	ErrAlreadyReturned   = errors.New("transaction already returned")
	ErrPartialFailure    = errors.New("partial failure")
	// ErrTransport marks a failure of the backing store itself rather than
	// a rejected request.
	ErrTransport = errors.New("transport error")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailInUse         = errors.New("email already in use")
	ErrWeakPassword       = errors.New("password too weak")
	ErrAuthInProgress     = errors.New("authentication already in progress")
	ErrAuthCancelled      = errors.New("authentication cancelled by sign out")
)

// Validation wraps ErrValidation with a message for the user.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Transport wraps a backend failure so callers can match ErrTransport.
func Transport(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}

// PartialFailureError reports that the first of two writes succeeded and the
// second did not. Compensated tells whether the first write was undone; if
// it was not, the record with ID needs manual reconciliation.
type PartialFailureError struct {
	Op          string
	ID          string
	Compensated bool
	Err         error
}

func (e *PartialFailureError) Error() string {
	state := "compensated"
	if !e.Compensated {
		state = "needs reconciliation"
	}
	return fmt.Sprintf("%s %s: partial failure (%s): %v", e.Op, e.ID, state, e.Err)
}

func (e *PartialFailureError) Is(target error) bool { return target == ErrPartialFailure }

func (e *PartialFailureError) Unwrap() error { return e.Err }
