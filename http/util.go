package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stephnangue/profilebridge/auth"
	"github.com/stephnangue/profilebridge/console"
	"github.com/stephnangue/profilebridge/profile"
	"github.com/stephnangue/profilebridge/sso"
)

// Error codes returned next to the message so clients can branch on them.
const (
	CodeInvalidRequest        = "invalid_request"
	CodeInvalidProfileName    = "invalid_profile_name"
	CodeInvalidRegion         = "invalid_region"
	CodeProfileNotFound       = "profile_not_found"
	CodeCredentialsIncomplete = "credentials_incomplete"
	CodeNeedsLogin            = "needs_login"
	CodeRemoteFailure         = "remote_failure"
	CodeTimeout               = "timeout"
	CodeUnauthorized          = "unauthorized"
	CodeRateLimited           = "rate_limited"
	CodeForbiddenOrigin       = "forbidden_origin"
	CodeNotFound              = "not_found"
	CodeMethodNotAllowed      = "method_not_allowed"
	CodeInternal              = "internal_error"
)

// ErrorResponse represents a JSON error response
type ErrorResponse struct {
	Errors []string `json:"errors"`
	Code   string   `json:"code,omitempty"`
}

// respondError writes an error response with the given status code and message.
func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := &ErrorResponse{
		Errors: []string{message},
		Code:   code,
	}

	json.NewEncoder(w).Encode(resp)
}

// respondOk writes a successful JSON response with status 200.
func respondOk(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondErr maps err onto the error taxonomy. Unclassified errors are
// reported without their message.
func respondErr(w http.ResponseWriter, err error) {
	status, code := errorToStatusCode(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	respondError(w, status, code, msg)
}

// errorToStatusCode maps errors to appropriate HTTP status codes.
func errorToStatusCode(err error) (int, string) {
	var remoteErr *sso.RemoteError
	var fedErr *console.FederationError

	switch {
	case errors.Is(err, auth.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, auth.ErrAuthenticationRejected):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, profile.ErrInvalidProfileName):
		return http.StatusBadRequest, CodeInvalidProfileName
	case errors.Is(err, console.ErrInvalidRegion):
		return http.StatusBadRequest, CodeInvalidRegion
	case errors.Is(err, profile.ErrProfileNotFound):
		return http.StatusNotFound, CodeProfileNotFound
	case errors.Is(err, console.ErrCredentialsIncomplete), errors.Is(err, sso.ErrIncompleteProfile):
		return http.StatusUnprocessableEntity, CodeCredentialsIncomplete
	case errors.Is(err, sso.ErrTokenMissingOrExpired):
		return http.StatusConflict, CodeNeedsLogin
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	case errors.As(err, &remoteErr), errors.As(err, &fedErr):
		return http.StatusBadGateway, CodeRemoteFailure
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
