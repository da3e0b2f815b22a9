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

type sourceRepository struct {
	db *gorm.DB
}

func NewSourceRepository(db *gorm.DB) services.SourceRepository {
	return &sourceRepository{db: db}
}

func (r *sourceRepository) Create(ctx context.Context, source *models.Source) error {
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(source).Error; err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}
	return nil
}

func (r *sourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Source, error) {
	var source models.Source
	err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFound("Source", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load source: %w", err)
	}
	return &source, nil
}

func (r *sourceRepository) GetOwned(ctx context.Context, id, userID uuid.UUID) (*models.Source, error) {
	var source models.Source
	err := r.db.WithContext(ctx).
		Joins("JOIN notebooks ON notebooks.id = sources.notebook_id").
		Where("sources.id = ? AND notebooks.owner_id = ?", id, userID).
		Where("sources.deleted_at IS NULL AND notebooks.deleted_at IS NULL").
		First(&source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFound("Source", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load source: %w", err)
	}
	return &source, nil
}

func (r *sourceRepository) ListByNotebook(ctx context.Context, notebookID uuid.UUID) ([]models.Source, error) {
	var sources []models.Source
	err := r.db.WithContext(ctx).
		Where("notebook_id = ? AND deleted_at IS NULL", notebookID).
		Order("created_at ASC").
		Find(&sources).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

func (r *sourceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.SourceStatus, errorMessage string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if errorMessage != "" {
		var source models.Source
		if err := r.db.WithContext(ctx).Where("id = ?", id).First(&source).Error; err != nil {
			return fmt.Errorf("failed to load source for status update: %w", err)
		}
		meta := models.MetadataMap(source.Metadata)
		meta["error"] = errorMessage
		data, err := models.ConvertToJSON(meta)
		if err != nil {
			return fmt.Errorf("failed to encode source metadata: %w", err)
		}
		updates["metadata"] = data
	}

	result := r.db.WithContext(ctx).
		Model(&models.Source{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update source status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFound("Source", id.String())
	}
	return nil
}

func (r *sourceRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.Source{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]interface{}{
			"deleted_at": time.Now().UTC(),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to delete source: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFound("Source", id.String())
	}
	return nil
}
