package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mindspring-backend/models"
)

// AuthTokens is the result of a successful login or refresh.
type AuthTokens struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	ExpiresIn        int
}

// AuthService owns signup, verification, login and the refresh token
// lifecycle. Flows that take an email (resend, forgot password) respond
// identically whether or not the account exists.
type AuthService interface {
	Signup(ctx context.Context, req models.SignupRequest) (*models.User, error)
	VerifyOTP(ctx context.Context, email, code string) error
	ResendOTP(ctx context.Context, email string) error

	Login(ctx context.Context, email, password string) (*AuthTokens, error)
	Refresh(ctx context.Context, refreshToken string) (*AuthTokens, error)
	Logout(ctx context.Context, refreshToken string) error

	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}
