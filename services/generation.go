package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mindspring-backend/models"
)

// SummaryResult is a generated summary plus its history entry.
type SummaryResult struct {
	Summary   string    `json:"summary"`
	Style     string    `json:"style"`
	HistoryID uuid.UUID `json:"history_id"`
}

// MindmapResult is a generated mindmap plus its history entry.
type MindmapResult struct {
	Mindmap   map[string]any `json:"mindmap"`
	Format    string         `json:"format"`
	HistoryID uuid.UUID      `json:"history_id"`
}

// GenerationService produces AI study artifacts from source or notebook
// content and records each run in the generation history.
type GenerationService interface {
	SummarizeSource(ctx context.Context, sourceID, userID uuid.UUID, style string, maxLength int) (*SummaryResult, error)
	SummarizeNotebook(ctx context.Context, notebookID, userID uuid.UUID, style string, maxLength int) (*SummaryResult, error)

	QuizFromSource(ctx context.Context, sourceID, userID uuid.UUID, topic string, numQuestions int, difficulty string) (*models.Quiz, error)
	QuizFromNotebook(ctx context.Context, notebookID, userID uuid.UUID, topic string, numQuestions int, difficulty string) (*models.Quiz, error)

	StudyGuideFromSource(ctx context.Context, sourceID, userID uuid.UUID, topic, format string) (*models.StudyGuide, error)
	StudyGuideFromNotebook(ctx context.Context, notebookID, userID uuid.UUID, topic, format string) (*models.StudyGuide, error)

	MindmapFromSource(ctx context.Context, sourceID, userID uuid.UUID, format string) (*MindmapResult, error)
	MindmapFromNotebook(ctx context.Context, notebookID, userID uuid.UUID, format string) (*MindmapResult, error)
	MindmapFromText(ctx context.Context, userID uuid.UUID, text, format string) (*MindmapResult, error)
}

// HistoryService is the audit log of generation runs.
type HistoryService interface {
	Record(ctx context.Context, entry *models.GenerationHistory) error
	List(ctx context.Context, userID uuid.UUID, genType *models.GenerationType, skip, limit int) ([]models.GenerationHistory, int64, error)
	Get(ctx context.Context, id, userID uuid.UUID) (*models.GenerationHistory, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
	// DeleteExpired hard-deletes entries older than the retention window.
	// Invoked by operators, not on a schedule.
	DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}
