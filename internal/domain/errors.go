package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Registry / query
	ErrNoScheduleData = errors.New("not_found")

	// Storage
	ErrStoreBusy = errors.New("server_error: store busy")
)

// Code is the machine-readable error taxonomy surfaced over the API.
type Code string

const (
	CodeInvalidRequest Code = "invalid_request"
	CodeUnauthorized   Code = "unauthorized"
	CodeConflict       Code = "conflict"
	CodeUnprocessable  Code = "unprocessable"
	CodeRateLimited    Code = "rate_limited"
	CodeNotFound       Code = "not_found"
	CodeServerError    Code = "server_error"
)

// CodedError pairs a taxonomy code with a human-readable message, letting
// the API layer map directly to an HTTP status without re-deriving the
// code from error string matching.
type CodedError struct {
	Code    Code
	Message string
}

func (e *CodedError) Error() string { return e.Message }

// NewCodedError builds a CodedError.
func NewCodedError(code Code, msg string) *CodedError {
	return &CodedError{Code: code, Message: msg}
}
