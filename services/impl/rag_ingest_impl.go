package impl

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
	"github.com/mindspring-backend/services/ingest"
)

// ragIngestService chunks a document, embeds every chunk and bulk-inserts
// the result. Embedding failures surface as external service errors; the
// caller owns the source status transition.
type ragIngestService struct {
	chunks  services.ChunkRepository
	llm     services.LLMClient
	chunker *ingest.Chunker
}

func NewRAGIngestService(chunks services.ChunkRepository, llm services.LLMClient, chunkSize, overlap int) services.RAGIngestService {
	return &ragIngestService{
		chunks:  chunks,
		llm:     llm,
		chunker: ingest.NewChunker(chunkSize, overlap),
	}
}

func (s *ragIngestService) IngestDocument(ctx context.Context, notebookID, sourceID uuid.UUID, text string, metadata map[string]any) ([]models.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidation("Document text is empty")
	}

	pieces := s.chunker.Split(text)
	if len(pieces) == 0 {
		return nil, apperrors.NewValidation("Document produced no chunks")
	}
	log.Info().
		Str("source_id", sourceID.String()).
		Int("characters", len(text)).
		Int("chunks", len(pieces)).
		Msg("chunked document")

	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Text
	}

	embeddings, err := s.llm.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, apperrors.NewExternalService("LLMClient", "Failed to generate embeddings").WithCause(err)
	}
	if len(embeddings) != len(pieces) {
		return nil, apperrors.NewExternalService("LLMClient", "embedding count does not match chunk count")
	}

	metaJSON, err := models.ConvertToJSON(metadata)
	if err != nil {
		return nil, apperrors.NewInternal("failed to encode chunk metadata").WithCause(err)
	}

	rows := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		embeddingJSON, err := models.ConvertToJSON(embeddings[i])
		if err != nil {
			return nil, apperrors.NewInternal("failed to encode embedding").WithCause(err)
		}
		rows[i] = models.Chunk{
			SourceID:        sourceID,
			NotebookID:      notebookID,
			PlainText:       piece.Text,
			ChunkIndex:      i,
			StartOffset:     piece.StartOffset,
			EndOffset:       piece.EndOffset,
			Embedding:       embeddingJSON,
			EmbeddingVector: pgvector.NewVector(embeddings[i]),
			Metadata:        metaJSON,
		}
	}

	created, err := s.chunks.BulkCreate(ctx, rows)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("source_id", sourceID.String()).
		Int("chunks", len(created)).
		Msg("document ingested")
	return created, nil
}
