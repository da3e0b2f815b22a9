package impl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
)

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) services.UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("email = ? AND deleted_at IS NULL", email).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user by email: %w", err)
	}
	return &user, nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

func (r *userRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]any{
			"is_verified": true,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark user verified: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFound("User", id.String())
	}
	return nil
}

func (r *userRepository) UpdatePassword(ctx context.Context, id uuid.UUID, hashedPassword string) error {
	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]any{
			"hashed_password": hashedPassword,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFound("User", id.String())
	}
	return nil
}

type otpRepository struct {
	db *gorm.DB
}

func NewOTPRepository(db *gorm.DB) services.OTPRepository {
	return &otpRepository{db: db}
}

func (r *otpRepository) Create(ctx context.Context, otp *models.OTPCode) error {
	if otp.ID == uuid.Nil {
		otp.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(otp).Error; err != nil {
		return fmt.Errorf("failed to create otp code: %w", err)
	}
	return nil
}

func (r *otpRepository) FindActive(ctx context.Context, userID uuid.UUID, code string, purpose models.OTPPurpose) (*models.OTPCode, error) {
	var otp models.OTPCode
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND code = ? AND purpose = ? AND used_at IS NULL", userID, code, purpose).
		Order("created_at DESC").
		First(&otp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up otp code: %w", err)
	}
	return &otp, nil
}

// MarkUsed spends the code. The used_at guard makes redemption single-winner
// when two requests race on the same code.
func (r *otpRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.OTPCode{}).
		Where("id = ? AND used_at IS NULL", id).
		Update("used_at", time.Now().UTC())
	if result.Error != nil {
		return fmt.Errorf("failed to mark otp used: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewValidation("Invalid OTP code")
	}
	return nil
}

func (r *otpRepository) Invalidate(ctx context.Context, userID uuid.UUID, purpose models.OTPPurpose) error {
	err := r.db.WithContext(ctx).
		Model(&models.OTPCode{}).
		Where("user_id = ? AND purpose = ? AND used_at IS NULL", userID, purpose).
		Update("used_at", time.Now().UTC()).Error
	if err != nil {
		return fmt.Errorf("failed to invalidate otp codes: %w", err)
	}
	return nil
}

type refreshTokenRepository struct {
	db *gorm.DB
}

func NewRefreshTokenRepository(db *gorm.DB) services.RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

func (r *refreshTokenRepository) Create(ctx context.Context, grant *models.RefreshToken) error {
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(grant).Error; err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

func (r *refreshTokenRepository) GetByJTI(ctx context.Context, jti string) (*models.RefreshToken, error) {
	var grant models.RefreshToken
	err := r.db.WithContext(ctx).
		Where("jti = ?", jti).
		First(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}
	return &grant, nil
}

// Rotate revokes the old grant and stores the replacement atomically. Zero
// rows on the revoke means a concurrent refresh already spent the grant, so
// this caller loses and gets nothing.
func (r *refreshTokenRepository) Rotate(ctx context.Context, oldJTI string, next *models.RefreshToken) error {
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.RefreshToken{}).
			Where("jti = ? AND revoked_at IS NULL", oldJTI).
			Update("revoked_at", time.Now().UTC())
		if result.Error != nil {
			return fmt.Errorf("failed to revoke refresh token: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperrors.NewTokenInvalid()
		}
		if err := tx.Create(next).Error; err != nil {
			return fmt.Errorf("failed to store refresh token: %w", err)
		}
		return nil
	})
}

func (r *refreshTokenRepository) Revoke(ctx context.Context, jti string) error {
	err := r.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("jti = ? AND revoked_at IS NULL", jti).
		Update("revoked_at", time.Now().UTC()).Error
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

func (r *refreshTokenRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now().UTC())
	if result.Error != nil {
		return 0, fmt.Errorf("failed to revoke user sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}
