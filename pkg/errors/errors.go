// Package errors defines the coded error used across handlers, services and repositories.
// A Code decides the HTTP status, whether a client may retry, and how much of the error reaches the client.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeItemUnavailable     Code = "ITEM_UNAVAILABLE"
	CodeSellerNotConfigured Code = "SELLER_NOT_CONFIGURED"
	CodePaymentUnverified   Code = "PAYMENT_UNVERIFIED"
)

// Metadata is the client-facing policy for a Code.
type Metadata struct {
	HTTPStatus int
	Retryable  bool
	// PublicMessage replaces the error's own message unless ExposeMessage is set.
	PublicMessage  string
	ExposeMessage  bool
	DetailsAllowed bool
}

var policies = map[Code]Metadata{
	CodeValidation:          {http.StatusBadRequest, false, "validation failed", true, true},
	CodeUnauthorized:        {http.StatusUnauthorized, false, "authentication required", true, false},
	CodeForbidden:           {http.StatusForbidden, false, "access denied", true, false},
	CodeNotFound:            {http.StatusNotFound, false, "resource not found", true, false},
	CodeConflict:            {http.StatusConflict, false, "conflict detected", true, false},
	CodeStateConflict:       {http.StatusUnprocessableEntity, false, "state transition disallowed", true, true},
	CodeIdempotency:         {http.StatusConflict, false, "idempotency key reused", true, true},
	CodeRateLimit:           {http.StatusTooManyRequests, true, "rate limit exceeded", true, false},
	CodeInternal:            {http.StatusInternalServerError, true, "internal server error", false, false},
	CodeDependency:          {http.StatusServiceUnavailable, true, "dependency unavailable", false, true},
	CodeItemUnavailable:     {http.StatusConflict, false, "item is no longer available", true, false},
	CodeSellerNotConfigured: {http.StatusUnprocessableEntity, false, "seller cannot accept this payment method", true, true},
	// Verification failures carry processor detail the buyer must not see.
	CodePaymentUnverified: {http.StatusPaymentRequired, false, "payment could not be verified, contact support", false, false},
}

// MetadataFor returns the policy for code. Unknown codes are treated as internal errors.
func MetadataFor(code Code) Metadata {
	if meta, ok := policies[code]; ok {
		return meta
	}
	return policies[CodeInternal]
}

// Error is a coded error with an optional cause and client-visible details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets the structured details and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.code) + ": " + e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf reports the code of the outermost *Error in err's chain. Plain errors map to CodeInternal.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.code
	}
	return CodeInternal
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
