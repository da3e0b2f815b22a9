package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mindspring-backend/apperrors"
)

// ErrorBody carries the code, human message and optional details of a failure.
type ErrorBody struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// ErrorResponse is the envelope every failure renders as.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds the wire envelope for a domain error.
func NewErrorResponse(de *apperrors.DomainError) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{
		Code:    de.Code,
		Message: de.Message,
		Details: de.Details,
	}}
}

// RespondError renders any error as the envelope. Domain errors carry their
// own status and code; anything else logs and surfaces as an opaque 500.
func RespondError(c *gin.Context, err error) {
	de, ok := apperrors.As(err)
	if !ok {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("unhandled error")
		de = apperrors.NewInternal("An unexpected error occurred. Please contact support.")
	} else if de.HTTPStatus >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.JSON(de.HTTPStatus, NewErrorResponse(de))
}

// RespondBindingError renders request-shape failures (malformed JSON, missing
// required fields) as 422, distinct from domain validation errors.
func RespondBindingError(c *gin.Context, err error) {
	c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: ErrorBody{
		Code:    "VALIDATION_FAILED",
		Message: "The request payload is invalid.",
		Details: map[string]any{"error": err.Error()},
	}})
}

// Message is the body of endpoints that only acknowledge an action.
type Message struct {
	Message string `json:"message"`
}
