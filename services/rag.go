package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/mindspring-backend/models"
)

// ChunkRepository persists and searches embedded chunks.
type ChunkRepository interface {
	// BulkCreate inserts all chunks in one statement and returns them with
	// generated IDs.
	BulkCreate(ctx context.Context, chunks []models.Chunk) ([]models.Chunk, error)

	// SearchByEmbedding returns up to topK chunks whose cosine similarity to
	// the query vector is at least threshold, nearest first. A nil sourceID
	// searches the whole notebook. Each hit carries its score under
	// metadata.similarity_score.
	SearchByEmbedding(ctx context.Context, queryEmbedding []float32, notebookID uuid.UUID, sourceID *uuid.UUID, topK int, threshold float64) ([]models.Chunk, error)

	// SearchByText embeds the query text and delegates to SearchByEmbedding
	// with the configured default threshold.
	SearchByText(ctx context.Context, queryText string, notebookID uuid.UUID, sourceID *uuid.UUID, topK int) ([]models.Chunk, error)

	ListBySource(ctx context.Context, sourceID uuid.UUID) ([]models.Chunk, error)
	ListByNotebook(ctx context.Context, notebookID uuid.UUID) ([]models.Chunk, error)
	DeleteBySource(ctx context.Context, sourceID uuid.UUID) error
}

// RAGIngestService turns extracted text into embedded chunks.
type RAGIngestService interface {
	// IngestDocument chunks, embeds and persists the text for a source.
	// Empty or whitespace-only text is a validation error.
	IngestDocument(ctx context.Context, notebookID, sourceID uuid.UUID, text string, metadata map[string]any) ([]models.Chunk, error)
}

// SourceProcessingService drives a source through its status state machine.
// After ProcessSource returns, the source is either completed or failed.
type SourceProcessingService interface {
	ProcessSource(ctx context.Context, sourceID uuid.UUID) error
}
