// Package middleware holds the gin middleware chain: authentication, rate
// limiting, request deadlines and observability. Handlers downstream can rely
// on UserID being set by Auth.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/auth"
	"github.com/mindspring-backend/handlers"
	"github.com/mindspring-backend/services"
)

// UserIDKey is the context key under which Auth stores the caller's UUID.
const UserIDKey = "user_id"

// Auth validates the bearer access token and loads the account behind it.
// Unknown or deactivated accounts read as 401, not 404, so the endpoint
// reveals nothing about which accounts exist.
func Auth(tokens *auth.TokenManager, users services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortWithError(c, apperrors.NewUnauthorized("Authorization header required"))
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			abortWithError(c, apperrors.NewUnauthorized("Invalid authorization header format"))
			return
		}

		claims, err := tokens.ParseToken(raw, auth.TokenTypeAccess)
		if err != nil {
			abortWithError(c, err)
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			abortWithError(c, err)
			return
		}

		user, err := users.GetUser(c.Request.Context(), userID)
		if err != nil {
			if de, ok := apperrors.As(err); ok && de.Code == apperrors.CodeNotFound {
				err = apperrors.NewUnauthorized("User not found")
			}
			abortWithError(c, err)
			return
		}
		if !user.IsActive {
			abortWithError(c, apperrors.NewUnauthorized("Account is inactive"))
			return
		}

		c.Set(UserIDKey, user.ID)
		c.Next()
	}
}

// UserID returns the authenticated caller's ID. It is only meaningful on
// routes behind Auth.
func UserID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(UserIDKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

func abortWithError(c *gin.Context, err error) {
	handlers.RespondError(c, err)
	c.Abort()
}
