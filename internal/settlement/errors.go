package settlement

import (
	"errors"
	"fmt"

	"github.com/meridian-oa/meridian-oa/internal/approval"
	"github.com/meridian-oa/meridian-oa/internal/ledger"
	"github.com/meridian-oa/meridian-oa/internal/org"
	"github.com/meridian-oa/meridian-oa/internal/platform/db"
	"github.com/meridian-oa/meridian-oa/internal/sequence"
	"github.com/meridian-oa/meridian-oa/internal/status"
)

// ErrSystem is what callers see when persistence fails unexpectedly. The
// detail is logged at the coordinator boundary and never leaks outward.
var ErrSystem = errors.New("settlement: system error")

// ValidationError is a business-rule failure returned as a value with a
// human-readable reason.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("settlement: %s: %v", e.Reason, e.Err)
	}
	return "settlement: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConflictError is a concurrency failure the client may retry.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("settlement: concurrent modification: %v", e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func invalidf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a business-rule failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is a retryable concurrency failure.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// classify sorts an error into the validation / conflict / system
// taxonomy. System failures keep their detail here; the caller logs it and
// surfaces ErrSystem.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return err
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return err
	}

	switch {
	case errors.Is(err, ledger.ErrStaleBalance),
		errors.Is(err, sequence.ErrSequenceConflict):
		return &ConflictError{Err: err}
	case db.IsUniqueViolation(err), db.IsRetryable(err):
		return &ConflictError{Err: err}
	}

	var te *status.TransitionError
	if errors.As(err, &te) {
		return &ValidationError{Reason: "illegal status transition", Err: err}
	}
	var bm *approval.BelowMinimumError
	if errors.As(err, &bm) {
		return &ValidationError{Reason: "second approval amount below minimum", Err: err}
	}
	switch {
	case errors.Is(err, approval.ErrNotAuthorized),
		errors.Is(err, approval.ErrInvalidNomination):
		return &ValidationError{Reason: "insufficient approval authority", Err: err}
	case errors.Is(err, ledger.ErrInvalidDeduction),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrNothingToDeduct),
		errors.Is(err, ledger.ErrExceedsClaim),
		errors.Is(err, ledger.ErrFxPortionMismatch):
		return &ValidationError{Reason: "prior balance allocation rejected", Err: err}
	case errors.Is(err, org.ErrNotFound):
		return &ValidationError{Reason: "unknown user or office", Err: err}
	case errors.Is(err, ErrNotFound):
		return &ValidationError{Reason: "document not found", Err: err}
	}
	return err
}
