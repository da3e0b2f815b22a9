package impl

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/metrics"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
)

// chunkRepository stores embedded chunks in Postgres and searches them with
// pgvector cosine distance. The index only orders candidates; the similarity
// threshold is enforced in Go against the exact vectors so results never
// depend on index recall.
type chunkRepository struct {
	db        *gorm.DB
	llm       services.LLMClient
	threshold float64
}

func NewChunkRepository(db *gorm.DB, llm services.LLMClient, defaultThreshold float64) services.ChunkRepository {
	return &chunkRepository{db: db, llm: llm, threshold: defaultThreshold}
}

func (r *chunkRepository) BulkCreate(ctx context.Context, chunks []models.Chunk) ([]models.Chunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}
	for i := range chunks {
		if chunks[i].ID == uuid.Nil {
			chunks[i].ID = uuid.New()
		}
	}
	if err := r.db.WithContext(ctx).Create(&chunks).Error; err != nil {
		return nil, fmt.Errorf("failed to insert chunks: %w", err)
	}
	return chunks, nil
}

func (r *chunkRepository) SearchByEmbedding(ctx context.Context, queryEmbedding []float32, notebookID uuid.UUID, sourceID *uuid.UUID, topK int, threshold float64) ([]models.Chunk, error) {
	if topK <= 0 {
		return []models.Chunk{}, nil
	}
	start := time.Now()

	query := r.db.WithContext(ctx).
		Where("notebook_id = ?", notebookID).
		Where("embedding_vector IS NOT NULL")
	if sourceID != nil {
		query = query.Where("source_id = ?", *sourceID)
	}

	// Over-fetch so rows trimmed by the threshold still leave topK results.
	var candidates []models.Chunk
	err := query.
		Clauses(clause.OrderBy{Expression: clause.Expr{
			SQL:  "embedding_vector <=> ?",
			Vars: []interface{}{pgvector.NewVector(queryEmbedding)},
		}}).
		Limit(topK * 3).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]models.Chunk, 0, topK)
	for _, chunk := range candidates {
		score := cosineSimilarity(queryEmbedding, chunk.EmbeddingVector.Slice())
		if score < threshold {
			continue
		}
		meta := models.MetadataMap(chunk.Metadata)
		meta["similarity_score"] = score
		data, err := models.ConvertToJSON(meta)
		if err == nil {
			chunk.Metadata = data
		}
		results = append(results, chunk)
		if len(results) >= topK {
			break
		}
	}

	metrics.VectorSearchDuration.Observe(time.Since(start).Seconds())
	log.Debug().
		Str("notebook_id", notebookID.String()).
		Int("candidates", len(candidates)).
		Int("results", len(results)).
		Msg("vector search")
	return results, nil
}

func (r *chunkRepository) SearchByText(ctx context.Context, queryText string, notebookID uuid.UUID, sourceID *uuid.UUID, topK int) ([]models.Chunk, error) {
	embeddings, err := r.llm.GenerateEmbeddings(ctx, []string{queryText})
	if err != nil {
		return nil, apperrors.NewExternalService("embedding", "failed to embed query").WithCause(err)
	}
	if len(embeddings) == 0 {
		return []models.Chunk{}, nil
	}
	return r.SearchByEmbedding(ctx, embeddings[0], notebookID, sourceID, topK, r.threshold)
}

func (r *chunkRepository) ListBySource(ctx context.Context, sourceID uuid.UUID) ([]models.Chunk, error) {
	var chunks []models.Chunk
	err := r.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return chunks, nil
}

func (r *chunkRepository) ListByNotebook(ctx context.Context, notebookID uuid.UUID) ([]models.Chunk, error) {
	var chunks []models.Chunk
	err := r.db.WithContext(ctx).
		Where("notebook_id = ?", notebookID).
		Order("source_id ASC, chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return chunks, nil
}

func (r *chunkRepository) DeleteBySource(ctx context.Context, sourceID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Delete(&models.Chunk{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// cosineSimilarity returns dot(a,b)/(|a||b|), or 0 when either vector has
// zero norm or the lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
