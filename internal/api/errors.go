package api

import (
	stderrors "errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/luthierworks/luthier/internal/errors"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Code       int    `json:"code"`
	Reason     string `json:"reason,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// errorResponse maps domain errors onto a status and an operator-safe body.
// Raw error text is only used for validation failures the caller caused.
func errorResponse(err error) ErrorResponse {
	var (
		authErr       *errors.AuthenticationError
		cfgErr        *errors.ConfigurationError
		rlErr         *errors.RateLimitError
		trErr         *errors.TransportError
		busyErr       *errors.ErrSyncInProgress
		notFound      *errors.ErrNotFound
		conflict      *errors.ErrConflict
		validationErr *errors.ErrTestimonialValidation
	)

	switch {
	case stderrors.As(err, &authErr):
		return ErrorResponse{Error: "session_expired", Message: authErr.UserMessage(), Code: http.StatusUnauthorized}
	case stderrors.As(err, &cfgErr):
		return ErrorResponse{Error: "configuration_error", Message: cfgErr.UserMessage(), Code: http.StatusUnprocessableEntity, Reason: cfgErr.Reason}
	case stderrors.As(err, &rlErr):
		return ErrorResponse{
			Error:      "rate_limited",
			Message:    rlErr.UserMessage(),
			Code:       http.StatusTooManyRequests,
			RetryAfter: int(math.Ceil(rlErr.RetryAfter.Seconds())),
		}
	case stderrors.As(err, &trErr):
		return ErrorResponse{Error: "upstream_unavailable", Message: trErr.UserMessage(), Code: http.StatusBadGateway}
	case stderrors.As(err, &busyErr):
		return ErrorResponse{Error: "sync_in_progress", Message: busyErr.UserMessage(), Code: http.StatusConflict}
	case stderrors.As(err, &notFound):
		return ErrorResponse{Error: "not_found", Message: notFound.Error(), Code: http.StatusNotFound}
	case stderrors.As(err, &conflict):
		return ErrorResponse{Error: "conflict", Message: conflict.Error(), Code: http.StatusConflict}
	case stderrors.As(err, &validationErr):
		return ErrorResponse{Error: "invalid_request", Message: validationErr.Error(), Code: http.StatusBadRequest}
	default:
		return ErrorResponse{Error: "internal_error", Message: "Unexpected error. See server logs.", Code: http.StatusInternalServerError}
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	resp := errorResponse(err)
	if resp.Code >= http.StatusInternalServerError {
		s.logger.ErrorWithContext(c.Request.Context(), "request failed",
			"path", c.FullPath(),
			"error", err.Error(),
		)
	}
	if resp.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(resp.RetryAfter))
	}
	c.AbortWithStatusJSON(resp.Code, resp)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Message: message,
		Code:    http.StatusBadRequest,
	})
}
