// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package) and the translation of service and domain
// errors into those codes. Clients branch on the code; the message is safe to display.
//
// Conventions:
//   - Codes are lowercase, snake_case.
//   - Generic codes (e.g., bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - completion_* codes report a failure of the upstream completion endpoint and use
//     gateway statuses (502/504), never 401: the caller's own session is fine.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "conflict",
//	  "message": "a reply is already pending for this profile"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/persona-chat/internal/domain"
	"github.com/tbourn/persona-chat/internal/http/middleware"
	"github.com/tbourn/persona-chat/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_failed"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Completion endpoint failures:
	ErrCodeCompletionUnauthorized = "completion_unauthorized"
	ErrCodeCompletionUnreachable  = "completion_unreachable"
	ErrCodeCompletionFailed       = "completion_failed"
)

// statusFor maps err to an HTTP status, error code and client-safe message.
func statusFor(err error) (int, string, string) {
	switch {
	case errors.Is(err, services.ErrReplyPending),
		errors.Is(err, services.ErrNoActiveProfile),
		errors.Is(err, services.ErrReplyDiscarded),
		errors.Is(err, services.ErrUsernameTaken):
		return http.StatusConflict, ErrCodeConflict, err.Error()
	case errors.Is(err, services.ErrProfileNotFound):
		return http.StatusNotFound, ErrCodeNotFound, err.Error()
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrOrchestratorClosed),
		errors.Is(err, services.ErrNotOpen),
		errors.Is(err, services.ErrNoSession):
		return http.StatusUnauthorized, ErrCodeUnauthorized, err.Error()
	}

	var de *domain.Error
	if !errors.As(err, &de) {
		return http.StatusInternalServerError, ErrCodeInternal, "internal server error"
	}
	switch de.Kind {
	case domain.KindValidation:
		return http.StatusBadRequest, ErrCodeValidation, de.Message
	case domain.KindAuthentication:
		return http.StatusBadGateway, ErrCodeCompletionUnauthorized, de.Message
	case domain.KindTransport:
		return http.StatusGatewayTimeout, ErrCodeCompletionUnreachable, de.Message
	case domain.KindCompletion:
		return http.StatusBadGateway, ErrCodeCompletionFailed, de.Message
	default:
		return http.StatusInternalServerError, ErrCodeInternal, de.Message
	}
}

// failErr writes the envelope for err. Internal failures keep the cause in
// the request log only.
func failErr(c *gin.Context, err error) {
	status, code, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().Err(err).Str("kind", string(domain.KindOf(err))).Msg("request failed")
	}
	fail(c, status, code, msg)
}
