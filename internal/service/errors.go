package service

import (
	"errors"
	"fmt"
)

// Code is a machine-readable failure reason returned by the session engine.
type Code string

const (
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeNotFound             Code = "NOT_FOUND"
	CodeNotActive            Code = "NOT_ACTIVE"
	CodeAttemptsExhausted    Code = "ATTEMPTS_EXHAUSTED"
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeSessionNotActive     Code = "SESSION_NOT_ACTIVE"
	CodeAlreadySubmitted     Code = "ALREADY_SUBMITTED"
	CodeTimeLimitExceeded    Code = "TIME_LIMIT_EXCEEDED"
	CodeSubmissionInProgress Code = "SUBMISSION_IN_PROGRESS"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeTooManyAttempts      Code = "TOO_MANY_ATTEMPTS"
	CodeInvalidCode          Code = "INVALID_CODE"
	CodeExpired              Code = "EXPIRED"
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeInternal             Code = "INTERNAL_ERROR"
)

// Error is a typed engine failure. Two Errors match under errors.Is when
// their codes are equal, so callers compare against the sentinels below.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrUnauthorized         = &Error{Code: CodeUnauthorized}
	ErrNotFound             = &Error{Code: CodeNotFound}
	ErrNotActive            = &Error{Code: CodeNotActive}
	ErrAttemptsExhausted    = &Error{Code: CodeAttemptsExhausted}
	ErrSessionNotFound      = &Error{Code: CodeSessionNotFound}
	ErrSessionNotActive     = &Error{Code: CodeSessionNotActive}
	ErrAlreadySubmitted     = &Error{Code: CodeAlreadySubmitted}
	ErrTimeLimitExceeded    = &Error{Code: CodeTimeLimitExceeded}
	ErrSubmissionInProgress = &Error{Code: CodeSubmissionInProgress}
	ErrRateLimited          = &Error{Code: CodeRateLimited}
	ErrTooManyAttempts      = &Error{Code: CodeTooManyAttempts}
	ErrInvalidCode          = &Error{Code: CodeInvalidCode}
	ErrExpired              = &Error{Code: CodeExpired}
	ErrValidation           = &Error{Code: CodeValidation}
	ErrInternal             = &Error{Code: CodeInternal}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the engine code from err, defaulting to INTERNAL_ERROR.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
