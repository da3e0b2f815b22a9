package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/mindspring-backend/models"
)

// NotebookService owns notebook CRUD. Every read and write is scoped to the
// owner; a notebook another user owns is reported as not found.
type NotebookService interface {
	Create(ctx context.Context, userID uuid.UUID, req models.CreateNotebookRequest) (*models.Notebook, error)
	Get(ctx context.Context, id, userID uuid.UUID) (*models.Notebook, error)
	List(ctx context.Context, userID uuid.UUID, skip, limit int) (*models.NotebookListResponse, error)
	Update(ctx context.Context, id, userID uuid.UUID, req models.UpdateNotebookRequest) (*models.Notebook, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
	Restore(ctx context.Context, id, userID uuid.UUID) (*models.Notebook, error)
}

// NewFileUpload describes one uploaded file accepted by AddFileSources.
type NewFileUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SourceService creates and manages sources inside a notebook. File and URL
// and text sources all start in processing status; extraction and embedding
// happen in a background task.
type SourceService interface {
	// AddFileSources stores each file and creates its source row. Files that
	// fail validation (type, size) are skipped, not fatal; the returned slice
	// holds the sources actually created.
	AddFileSources(ctx context.Context, userID, notebookID uuid.UUID, files []NewFileUpload) ([]models.Source, error)
	AddURLSource(ctx context.Context, userID, notebookID uuid.UUID, rawURL string) (*models.Source, error)
	AddTextSource(ctx context.Context, userID, notebookID uuid.UUID, title, text string) (*models.Source, error)

	Get(ctx context.Context, id, userID uuid.UUID) (*models.Source, error)
	List(ctx context.Context, notebookID, userID uuid.UUID) ([]models.Source, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
}
