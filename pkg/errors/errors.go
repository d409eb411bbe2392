package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code, so clones and wrapped
// copies still match the predefined errors below.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrTooManyRequests    = New("TOO_MANY_REQUESTS", http.StatusTooManyRequests, "too many requests")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Admission pipeline errors.
var (
	ErrInsufficientQuota            = New("INSUFFICIENT_QUOTA", http.StatusConflict, "insufficient quota available")
	ErrInvalidRelease               = New("INVALID_RELEASE", http.StatusConflict, "release exceeds reserved quota")
	ErrInsufficientReservation      = New("INSUFFICIENT_RESERVATION", http.StatusConflict, "consume exceeds reserved quota")
	ErrInvalidTransition            = New("INVALID_TRANSITION", http.StatusConflict, "invalid status transition")
	ErrPlanNotAcceptingApplications = New("PLAN_NOT_ACCEPTING_APPLICATIONS", http.StatusConflict, "plan is not accepting applications")
	ErrPlanHasActiveApplications    = New("PLAN_HAS_ACTIVE_APPLICATIONS", http.StatusConflict, "plan has active applications")
	ErrQuotaHasReservations         = New("QUOTA_HAS_RESERVATIONS", http.StatusConflict, "quota has active reservations")
	ErrDuplicateApplication         = New("DUPLICATE_APPLICATION", http.StatusConflict, "student already has an active application for this plan")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithDetails returns a copy of err carrying the given key/value detail.
func WithDetails(err *Error, key string, value interface{}) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	details := make(map[string]interface{}, len(err.Details)+1)
	for k, v := range err.Details {
		details[k] = v
	}
	details[key] = value
	clone.Details = details
	return &clone
}

// IsRecoverable reports whether err is a capacity shortage the caller may
// answer by waitlisting instead of failing.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrInsufficientQuota) || errors.Is(err, ErrInsufficientReservation)
}
