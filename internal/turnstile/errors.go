// Package turnstile validates Cloudflare Turnstile tokens behind a per-client
// rate limit.
package turnstile

import (
	"fmt"
	"net/http"
)

// Code classifies a validation failure.
type Code string

const (
	CodeResourceExhausted Code = "resource_exhausted"
	CodeInvalidArgument   Code = "invalid_argument"
	CodeInternal          Code = "internal"
	CodePermissionDenied  Code = "permission_denied"
)

// Error is a client-facing validation failure.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// HTTPStatus maps the code to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeResourceExhausted:
		return http.StatusTooManyRequests
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodePermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

var (
	errTooManyRequests = &Error{Code: CodeResourceExhausted, Message: "Too many requests. Try again later."}
	errMissingToken    = &Error{Code: CodeInvalidArgument, Message: "Missing turnstile token"}
	errMisconfigured   = &Error{Code: CodeInternal, Message: "Server misconfiguration"}
	errVerifyFailed    = &Error{Code: CodePermissionDenied, Message: "Turnstile verification failed"}
	errUpstream        = &Error{Code: CodeInternal, Message: "Turnstile verification unavailable"}
)
