package impl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
)

// notebookService owns notebook CRUD. All queries carry the owner filter, so
// cross-tenant reads surface as not found rather than forbidden.
type notebookService struct {
	db *gorm.DB
}

func NewNotebookService(db *gorm.DB) services.NotebookService {
	return &notebookService{db: db}
}

func (s *notebookService) Create(ctx context.Context, userID uuid.UUID, req models.CreateNotebookRequest) (*models.Notebook, error) {
	language := req.Language
	if language == "" {
		language = "en"
	}

	notebook := &models.Notebook{
		ID:               uuid.New(),
		OwnerID:          userID,
		Title:            req.Title,
		Description:      req.Description,
		Language:         language,
		Tone:             req.Tone,
		MaxContextTokens: 4000,
	}
	if err := s.db.WithContext(ctx).Create(notebook).Error; err != nil {
		return nil, fmt.Errorf("failed to create notebook: %w", err)
	}

	log.Info().Str("notebook_id", notebook.ID.String()).Str("owner_id", userID.String()).Msg("notebook created")
	return notebook, nil
}

func (s *notebookService) Get(ctx context.Context, id, userID uuid.UUID) (*models.Notebook, error) {
	var notebook models.Notebook
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ? AND deleted_at IS NULL", id, userID).
		First(&notebook).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFound("Notebook", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load notebook: %w", err)
	}
	return &notebook, nil
}

func (s *notebookService) List(ctx context.Context, userID uuid.UUID, skip, limit int) (*models.NotebookListResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if skip < 0 {
		skip = 0
	}

	query := s.db.WithContext(ctx).
		Model(&models.Notebook{}).
		Where("owner_id = ? AND deleted_at IS NULL", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count notebooks: %w", err)
	}

	var notebooks []models.Notebook
	err := query.
		Order("updated_at DESC").
		Offset(skip).
		Limit(limit).
		Find(&notebooks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notebooks: %w", err)
	}
	if notebooks == nil {
		notebooks = []models.Notebook{}
	}

	return &models.NotebookListResponse{
		Notebooks: notebooks,
		Total:     total,
		Skip:      skip,
		Limit:     limit,
	}, nil
}

func (s *notebookService) Update(ctx context.Context, id, userID uuid.UUID, req models.UpdateNotebookRequest) (*models.Notebook, error) {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Language != nil {
		updates["language"] = *req.Language
	}
	if req.Tone != nil {
		updates["tone"] = *req.Tone
	}
	if req.MaxContextTokens != nil {
		if *req.MaxContextTokens < 256 || *req.MaxContextTokens > 32000 {
			return nil, apperrors.NewValidation("max_context_tokens must be between 256 and 32000")
		}
		updates["max_context_tokens"] = *req.MaxContextTokens
	}

	result := s.db.WithContext(ctx).
		Model(&models.Notebook{}).
		Where("id = ? AND owner_id = ? AND deleted_at IS NULL", id, userID).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update notebook: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.NewNotFound("Notebook", id.String())
	}

	return s.Get(ctx, id, userID)
}

func (s *notebookService) Delete(ctx context.Context, id, userID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&models.Notebook{}).
		Where("id = ? AND owner_id = ? AND deleted_at IS NULL", id, userID).
		Updates(map[string]interface{}{
			"deleted_at": time.Now().UTC(),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to delete notebook: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFound("Notebook", id.String())
	}

	log.Info().Str("notebook_id", id.String()).Msg("notebook soft deleted")
	return nil
}

// Restore clears the deletion mark. Restoring a live notebook is a no-op
// that still returns it.
func (s *notebookService) Restore(ctx context.Context, id, userID uuid.UUID) (*models.Notebook, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Notebook{}).
		Where("id = ? AND owner_id = ?", id, userID).
		Updates(map[string]interface{}{
			"deleted_at": nil,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to restore notebook: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.NewNotFound("Notebook", id.String())
	}

	return s.Get(ctx, id, userID)
}
