// Package domainerrors is the error taxonomy shared by the enrollment client
// and the backend. A Code is the kind of failure; transports map wire strings
// onto codes and codes onto HTTP statuses.
package domainerrors

import (
	"errors"
	"fmt"
	"time"
)

// Code classifies a failure.
type Code string

const (
	// CodeValidation is a local input failure (address syntax, code format).
	// It never reaches the backend.
	CodeValidation Code = "validation_error"
	// CodeAddressRejected means the backend refused an address the client
	// judged syntactically valid (format or domain policy).
	CodeAddressRejected Code = "address_rejected"
	// CodeRateLimited carries a RetryAt instant.
	CodeRateLimited Code = "rate_limited"
	CodeTokenInvalid Code = "token_invalid"
	CodeLinkExpired  Code = "link_expired"
	// CodeBotCheckFailed is a captcha-class failure; the user may retry.
	CodeBotCheckFailed Code = "bot_check_failed"
	CodeInternal       Code = "internal_error"
	// CodeIssuanceCancelled is user-initiated and must not be reported as a fault.
	CodeIssuanceCancelled Code = "issuance_cancelled"
	CodeIssuanceFailed    Code = "issuance_failed"

	// CodeBadRequest is a malformed request body seen by the backend.
	CodeBadRequest Code = "bad_request"
)

// Error is a classified failure.
type Error struct {
	Code    Code
	Message string
	// WireCode is the backend's error string when the failure came off the wire.
	// It selects the user-facing message.
	WireCode string
	// RetryAt is set for CodeRateLimited when the backend sent a retry hint.
	RetryAt time.Time
	Err     error
}

// New builds an Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap classifies err under code.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// RateLimited builds a CodeRateLimited error that expires at retryAt.
func RateLimited(wireCode string, retryAt time.Time) *Error {
	return &Error{
		Code:     CodeRateLimited,
		Message:  "rate limited",
		WireCode: wireCode,
		RetryAt:  retryAt,
	}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code so callers can write
// errors.Is(err, domainerrors.New(CodeTokenInvalid, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf extracts the code of err. Unclassified errors are internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// As returns the *Error inside err, classifying unknown errors as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return Wrap(err, CodeInternal, "unclassified failure")
}
