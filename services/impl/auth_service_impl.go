package impl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/auth"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
)

const defaultOTPTTL = 10 * time.Minute

const (
	otpEmailSubject = "Your MindSpring Verification Code"
	otpEmailBody    = "Your verification code is: %s\n\n" +
		"This code will expire in %d minutes.\n\n" +
		"If you didn't request this code, please ignore this email.\n\n" +
		"Best regards,\nThe MindSpring Team"
)

type authService struct {
	users  services.UserRepository
	otps   services.OTPRepository
	grants services.RefreshTokenRepository
	tokens *auth.TokenManager
	email  services.EmailProvider
	otpTTL time.Duration
}

func NewAuthService(
	users services.UserRepository,
	otps services.OTPRepository,
	grants services.RefreshTokenRepository,
	tokens *auth.TokenManager,
	email services.EmailProvider,
	otpTTL time.Duration,
) services.AuthService {
	if otpTTL <= 0 {
		otpTTL = defaultOTPTTL
	}
	return &authService{
		users:  users,
		otps:   otps,
		grants: grants,
		tokens: tokens,
		email:  email,
		otpTTL: otpTTL,
	}
}

func (s *authService) Signup(ctx context.Context, req models.SignupRequest) (*models.User, error) {
	email := normalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperrors.NewValidation("Invalid email format")
	}
	if len(req.Password) < 8 {
		return nil, apperrors.NewValidation("Password must be at least 8 characters")
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.NewConflict(fmt.Sprintf("Email %s is already registered", email))
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:             uuid.New(),
		Email:          email,
		HashedPassword: hashed,
		FullName:       strings.TrimSpace(req.FullName),
		IsVerified:     false,
		IsActive:       true,
		Plan:           models.UserPlanFree,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	if err := s.issueOTP(ctx, user, models.OTPPurposeVerifyEmail); err != nil {
		return nil, err
	}

	log.Info().Str("user_id", user.ID.String()).Msg("user registered")
	return user, nil
}

func (s *authService) VerifyOTP(ctx context.Context, email, code string) error {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if user == nil {
		return apperrors.NewNotFound("User", email)
	}

	if err := s.redeemOTP(ctx, user.ID, code, models.OTPPurposeVerifyEmail); err != nil {
		return err
	}
	if err := s.users.MarkVerified(ctx, user.ID); err != nil {
		return err
	}

	log.Info().Str("user_id", user.ID.String()).Msg("email verified")
	return nil
}

func (s *authService) ResendOTP(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if user == nil {
		// Same response as the happy path so the endpoint cannot be used
		// to probe for registered emails.
		log.Warn().Msg("verification code requested for unknown email")
		return nil
	}

	if err := s.issueOTP(ctx, user, models.OTPPurposeVerifyEmail); err != nil {
		return err
	}

	log.Info().Str("user_id", user.ID.String()).Msg("verification code resent")
	return nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*services.AuthTokens, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user == nil || !auth.VerifyPassword(user.HashedPassword, password) {
		return nil, apperrors.NewInvalidCredentials()
	}
	if !user.IsVerified {
		return nil, apperrors.NewForbidden("Email not verified. Please verify your email first.")
	}
	if !user.IsActive {
		return nil, apperrors.NewForbidden("Account is inactive")
	}

	accessToken, refreshToken, grant, err := s.mintTokens(user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.grants.Create(ctx, grant); err != nil {
		return nil, err
	}

	log.Info().Str("user_id", user.ID.String()).Msg("user logged in")
	return s.authTokens(accessToken, refreshToken, grant), nil
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*services.AuthTokens, error) {
	claims, err := s.tokens.ParseToken(refreshToken, auth.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}

	grant, err := s.grants.GetByJTI(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if grant == nil || grant.RevokedAt != nil {
		return nil, apperrors.NewTokenInvalid()
	}
	if time.Now().After(grant.ExpiresAt) {
		return nil, apperrors.NewTokenExpired()
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, apperrors.NewForbidden("User not found or inactive")
	}

	accessToken, newRefreshToken, next, err := s.mintTokens(user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.grants.Rotate(ctx, claims.ID, next); err != nil {
		return nil, err
	}

	log.Info().Str("user_id", user.ID.String()).Msg("tokens refreshed")
	return s.authTokens(accessToken, newRefreshToken, next), nil
}

// Logout revokes the refresh grant. A garbled or expired token still logs
// out cleanly: there is nothing left to revoke.
func (s *authService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.ParseToken(refreshToken, auth.TokenTypeRefresh)
	if err != nil {
		return nil
	}
	if err := s.grants.Revoke(ctx, claims.ID); err != nil {
		return err
	}
	log.Info().Str("user_id", claims.Subject).Msg("refresh token revoked")
	return nil
}

func (s *authService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if user == nil {
		log.Warn().Msg("password reset requested for unknown email")
		return nil
	}

	if err := s.issueOTP(ctx, user, models.OTPPurposeResetPassword); err != nil {
		return err
	}

	log.Info().Str("user_id", user.ID.String()).Msg("password reset code sent")
	return nil
}

func (s *authService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if len(newPassword) < 8 {
		return apperrors.NewValidation("Password must be at least 8 characters")
	}

	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if user == nil {
		// Indistinguishable from a wrong code, so the endpoint cannot be
		// used to probe for registered emails.
		return apperrors.NewValidation("Invalid OTP code")
	}

	if err := s.redeemOTP(ctx, user.ID, code, models.OTPPurposeResetPassword); err != nil {
		return err
	}

	hashed, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hashed); err != nil {
		return err
	}

	revoked, err := s.grants.RevokeAllForUser(ctx, user.ID)
	if err != nil {
		return err
	}

	log.Info().
		Str("user_id", user.ID.String()).
		Int64("sessions_revoked", revoked).
		Msg("password reset")
	return nil
}

func (s *authService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NewNotFound("User", id.String())
	}
	return user, nil
}

// issueOTP retires older codes for the purpose, stores a fresh one and emails
// it. Delivery failures do not fail the flow: the response must not reveal
// whether mail went out, and the code can be re-requested.
func (s *authService) issueOTP(ctx context.Context, user *models.User, purpose models.OTPPurpose) error {
	code, err := auth.GenerateOTP()
	if err != nil {
		return err
	}
	if err := s.otps.Invalidate(ctx, user.ID, purpose); err != nil {
		return err
	}

	otp := &models.OTPCode{
		ID:        uuid.New(),
		UserID:    user.ID,
		Code:      code,
		Purpose:   purpose,
		ExpiresAt: time.Now().UTC().Add(s.otpTTL),
	}
	if err := s.otps.Create(ctx, otp); err != nil {
		return err
	}

	body := fmt.Sprintf(otpEmailBody, code, int(s.otpTTL.Minutes()))
	if err := s.email.Send(ctx, user.Email, otpEmailSubject, body); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("otp email delivery failed")
	}
	return nil
}

// redeemOTP validates and spends a code. Wrong and expired codes get
// distinct messages; both map to 400.
func (s *authService) redeemOTP(ctx context.Context, userID uuid.UUID, code string, purpose models.OTPPurpose) error {
	otp, err := s.otps.FindActive(ctx, userID, code, purpose)
	if err != nil {
		return err
	}
	if otp == nil {
		return apperrors.NewValidation("Invalid OTP code")
	}
	if time.Now().After(otp.ExpiresAt) {
		return apperrors.NewValidation("OTP has expired")
	}
	return s.otps.MarkUsed(ctx, otp.ID)
}

// mintTokens signs a fresh access/refresh pair and builds the grant row the
// caller persists.
func (s *authService) mintTokens(userID uuid.UUID) (string, string, *models.RefreshToken, error) {
	accessToken, err := s.tokens.CreateAccessToken(userID)
	if err != nil {
		return "", "", nil, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, jti, expiresAt, err := s.tokens.CreateRefreshToken(userID)
	if err != nil {
		return "", "", nil, fmt.Errorf("sign refresh token: %w", err)
	}
	grant := &models.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}
	return accessToken, refreshToken, grant, nil
}

func (s *authService) authTokens(accessToken, refreshToken string, grant *models.RefreshToken) *services.AuthTokens {
	return &services.AuthTokens{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: grant.ExpiresAt,
		ExpiresIn:        int(s.tokens.AccessTTL().Seconds()),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
