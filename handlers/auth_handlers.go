package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
)

const refreshCookieName = "refresh_token"

type AuthHandlers struct {
	authService  services.AuthService
	cookieSecure bool
}

func NewAuthHandlers(authService services.AuthService, cookieSecure bool) *AuthHandlers {
	return &AuthHandlers{authService: authService, cookieSecure: cookieSecure}
}

// Signup registers a new account and sends a verification code by email.
func (h *AuthHandlers) Signup(c *gin.Context) {
	var req models.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	user, err := h.authService.Signup(c.Request.Context(), req)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

func (h *AuthHandlers) VerifyOTP(c *gin.Context) {
	var req models.VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	if err := h.authService.VerifyOTP(c.Request.Context(), req.Email, req.Code); err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Message{Message: "Email verified successfully"})
}

// ResendOTP responds identically whether or not the email is registered.
func (h *AuthHandlers) ResendOTP(c *gin.Context) {
	var req models.ResendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	if err := h.authService.ResendOTP(c.Request.Context(), req.Email); err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Message{Message: "If the email exists, a verification code has been sent"})
}

// Login issues an access token in the body and the refresh token as an
// HTTP-only cookie.
func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	tokens, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondError(c, err)
		return
	}

	h.setRefreshCookie(c, tokens)
	c.JSON(http.StatusOK, models.TokenResponse{
		AccessToken: tokens.AccessToken,
		TokenType:   "bearer",
		ExpiresIn:   tokens.ExpiresIn,
	})
}

// Refresh rotates the refresh token: the old one is revoked and a new cookie
// is set alongside the fresh access token.
func (h *AuthHandlers) Refresh(c *gin.Context) {
	refreshToken, err := c.Cookie(refreshCookieName)
	if err != nil || refreshToken == "" {
		RespondError(c, apperrors.NewUnauthorized("Refresh token missing"))
		return
	}

	tokens, err := h.authService.Refresh(c.Request.Context(), refreshToken)
	if err != nil {
		RespondError(c, err)
		return
	}

	h.setRefreshCookie(c, tokens)
	c.JSON(http.StatusOK, models.TokenResponse{
		AccessToken: tokens.AccessToken,
		TokenType:   "bearer",
		ExpiresIn:   tokens.ExpiresIn,
	})
}

// Logout revokes the refresh token and clears its cookie. The access token
// stays valid until it expires; only the refresh lifecycle is server-side.
func (h *AuthHandlers) Logout(c *gin.Context) {
	refreshToken, err := c.Cookie(refreshCookieName)
	if err == nil && refreshToken != "" {
		if err := h.authService.Logout(c.Request.Context(), refreshToken); err != nil {
			RespondError(c, err)
			return
		}
	}

	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, Message{Message: "Logged out successfully"})
}

func (h *AuthHandlers) ForgotPassword(c *gin.Context) {
	var req models.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	if err := h.authService.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Message{Message: "If the email exists, a password reset code has been sent"})
}

func (h *AuthHandlers) ResetPassword(c *gin.Context) {
	var req models.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	if err := h.authService.ResetPassword(c.Request.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Message{Message: "Password reset successfully"})
}

func (h *AuthHandlers) Me(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	user, err := h.authService.GetUser(c.Request.Context(), userID)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

func (h *AuthHandlers) setRefreshCookie(c *gin.Context, tokens *services.AuthTokens) {
	maxAge := int(time.Until(tokens.RefreshExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(refreshCookieName, tokens.RefreshToken, maxAge, "/", "", h.cookieSecure, true)
}

func (h *AuthHandlers) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(refreshCookieName, "", -1, "/", "", h.cookieSecure, true)
}
