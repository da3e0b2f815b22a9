// Package handlers holds the gin HTTP handlers. Handlers stay thin: bind the
// request, resolve the caller, invoke a service and render the result or the
// error envelope.
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mindspring-backend/apperrors"
)

// currentUserID reads the authenticated caller placed in the context by the
// auth middleware.
func currentUserID(c *gin.Context) (uuid.UUID, error) {
	v, ok := c.Get("user_id")
	if !ok {
		return uuid.Nil, apperrors.NewUnauthorized("Not authenticated")
	}
	id, ok := v.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, apperrors.NewUnauthorized("Not authenticated")
	}
	return id, nil
}

// pathUUID parses a UUID path parameter, naming the parameter in the error.
func pathUUID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperrors.NewValidation("Invalid " + name + " format").WithCause(err)
	}
	return id, nil
}

// intQuery reads an integer query parameter, falling back to def when absent
// or malformed.
func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
