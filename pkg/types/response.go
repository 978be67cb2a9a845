// Package types holds the JSON envelopes shared by the API handlers and its Go clients.
package types

// Envelope wraps every 2xx body as {"data": ...}.
type Envelope[T any] struct {
	Data T `json:"data"`
}

// SuccessEnvelope is the untyped form written by handlers.
type SuccessEnvelope = Envelope[any]

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps every non-2xx body as {"error": {...}}.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// Retryable reports whether a client may repeat the request unchanged.
func (e ErrorEnvelope) Retryable() bool {
	switch e.Error.Code {
	case "DEPENDENCY_ERROR", "RATE_LIMIT_EXCEEDED", "INTERNAL_ERROR":
		return true
	}
	return false
}
