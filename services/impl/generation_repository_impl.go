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

type quizRepository struct {
	db *gorm.DB
}

func NewQuizRepository(db *gorm.DB) services.QuizRepository {
	return &quizRepository{db: db}
}

func (r *quizRepository) Create(ctx context.Context, quiz *models.Quiz) error {
	if quiz.ID == uuid.Nil {
		quiz.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(quiz).Error; err != nil {
		return fmt.Errorf("failed to create quiz: %w", err)
	}
	return nil
}

func (r *quizRepository) ListByNotebook(ctx context.Context, notebookID, userID uuid.UUID) ([]models.Quiz, error) {
	var quizzes []models.Quiz
	err := r.db.WithContext(ctx).
		Where("notebook_id = ? AND user_id = ? AND deleted_at IS NULL", notebookID, userID).
		Order("created_at DESC").
		Find(&quizzes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list quizzes: %w", err)
	}
	return quizzes, nil
}

func (r *quizRepository) Get(ctx context.Context, id, userID uuid.UUID) (*models.Quiz, error) {
	var quiz models.Quiz
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND deleted_at IS NULL", id, userID).
		First(&quiz).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFound("Quiz", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load quiz: %w", err)
	}
	return &quiz, nil
}

type studyGuideRepository struct {
	db *gorm.DB
}

func NewStudyGuideRepository(db *gorm.DB) services.StudyGuideRepository {
	return &studyGuideRepository{db: db}
}

func (r *studyGuideRepository) Create(ctx context.Context, guide *models.StudyGuide) error {
	if guide.ID == uuid.Nil {
		guide.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(guide).Error; err != nil {
		return fmt.Errorf("failed to create study guide: %w", err)
	}
	return nil
}

func (r *studyGuideRepository) NextVersion(ctx context.Context, notebookID uuid.UUID, topic string) (int, error) {
	var maxVersion int
	err := r.db.WithContext(ctx).
		Model(&models.StudyGuide{}).
		Where("notebook_id = ? AND topic = ?", notebookID, topic).
		Select("COALESCE(MAX(version), 0)").
		Scan(&maxVersion).Error
	if err != nil {
		return 0, fmt.Errorf("failed to resolve study guide version: %w", err)
	}
	return maxVersion + 1, nil
}

func (r *studyGuideRepository) ListByNotebook(ctx context.Context, notebookID, userID uuid.UUID) ([]models.StudyGuide, error) {
	var guides []models.StudyGuide
	err := r.db.WithContext(ctx).
		Where("notebook_id = ? AND user_id = ? AND deleted_at IS NULL", notebookID, userID).
		Order("created_at DESC").
		Find(&guides).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list study guides: %w", err)
	}
	return guides, nil
}

func (r *studyGuideRepository) Get(ctx context.Context, id, userID uuid.UUID) (*models.StudyGuide, error) {
	var guide models.StudyGuide
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND deleted_at IS NULL", id, userID).
		First(&guide).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFound("StudyGuide", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load study guide: %w", err)
	}
	return &guide, nil
}

type historyService struct {
	db *gorm.DB
}

func NewHistoryService(db *gorm.DB) services.HistoryService {
	return &historyService{db: db}
}

func (s *historyService) Record(ctx context.Context, entry *models.GenerationHistory) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ContentPreview == "" && entry.Content != "" {
		entry.ContentPreview = previewOf(entry.Content, 200)
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to record generation history: %w", err)
	}
	return nil
}

func (s *historyService) List(ctx context.Context, userID uuid.UUID, genType *models.GenerationType, skip, limit int) ([]models.GenerationHistory, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if skip < 0 {
		skip = 0
	}

	query := s.db.WithContext(ctx).
		Model(&models.GenerationHistory{}).
		Where("user_id = ? AND deleted_at IS NULL", userID)
	if genType != nil {
		query = query.Where("type = ?", *genType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count generation history: %w", err)
	}

	var entries []models.GenerationHistory
	err := query.
		Order("created_at DESC").
		Offset(skip).
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list generation history: %w", err)
	}
	return entries, total, nil
}

func (s *historyService) Get(ctx context.Context, id, userID uuid.UUID) (*models.GenerationHistory, error) {
	var entry models.GenerationHistory
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND deleted_at IS NULL", id, userID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFound("GenerationHistory", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load generation history: %w", err)
	}
	return &entry, nil
}

func (s *historyService) Delete(ctx context.Context, id, userID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&models.GenerationHistory{}).
		Where("id = ? AND user_id = ? AND deleted_at IS NULL", id, userID).
		Update("deleted_at", time.Now().UTC())
	if result.Error != nil {
		return fmt.Errorf("failed to delete generation history: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFound("GenerationHistory", id.String())
	}
	return nil
}

func (s *historyService) DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.GenerationHistory{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge generation history: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		log.Info().Int64("rows", result.RowsAffected).Time("cutoff", cutoff).Msg("purged expired generation history")
	}
	return result.RowsAffected, nil
}

// previewOf truncates on rune boundaries so multibyte titles survive.
func previewOf(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}
