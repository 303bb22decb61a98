package jwtauth

import (
	"errors"
	"fmt"
)

// ErrorCode represents a verification error code
type ErrorCode string

const (
	ErrExpired                  ErrorCode = "EXPIRED"
	ErrInvalidSignature         ErrorCode = "INVALID_SIGNATURE"
	ErrMissingToken             ErrorCode = "MISSING_TOKEN"
	ErrMalformed                ErrorCode = "MALFORMED"
	ErrNoneAlgorithm            ErrorCode = "NONE_ALGORITHM"
	ErrConfigError              ErrorCode = "CONFIG_ERROR"
	ErrUnsupportedAlgorithm     ErrorCode = "UNSUPPORTED_ALGORITHM"
	ErrMalformedAlgorithmHeader ErrorCode = "MALFORMED_ALGORITHM_HEADER"
	ErrInvalidClaims            ErrorCode = "INVALID_CLAIMS"
	ErrCanceled                 ErrorCode = "CANCELED"
)

// ValidationError is the single failure type returned by Verify.
// Callers treat it as a fallible result, not as an exceptional condition.
type ValidationError struct {
	Code     ErrorCode
	Message  string
	Internal error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Internal
}

// NewValidationError creates a new validation error
func NewValidationError(code ErrorCode, message string, internal error) *ValidationError {
	return &ValidationError{
		Code:     code,
		Message:  message,
		Internal: internal,
	}
}

// MalformedKeyError reports PEM key material that cannot be decoded or imported.
type MalformedKeyError struct {
	Reason   string
	Internal error
}

func (e *MalformedKeyError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("malformed public key: %s: %v", e.Reason, e.Internal)
	}
	return "malformed public key: " + e.Reason
}

func (e *MalformedKeyError) Unwrap() error {
	return e.Internal
}

// ErrorCodeOf returns the code carried by err, or "UNKNOWN".
func ErrorCodeOf(err error) string {
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return string(valErr.Code)
	}
	var keyErr *MalformedKeyError
	if errors.As(err, &keyErr) {
		return string(ErrConfigError)
	}
	return "UNKNOWN"
}
