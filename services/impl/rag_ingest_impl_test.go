package impl

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindspring-backend/apperrors"
)

func TestRAGIngest_ChunksEmbedsAndStores(t *testing.T) {
	chunks := &fakeChunkRepo{}
	llm := &fakeLLM{}
	svc := NewRAGIngestService(chunks, llm, 10, 2)

	notebookID := uuid.New()
	sourceID := uuid.New()
	text := strings.Repeat("abcdefghij", 3) // 30 runes -> 4 windows of 10 with step 8

	created, err := svc.IngestDocument(context.Background(), notebookID, sourceID, text, map[string]any{"file_type": "txt"})
	require.NoError(t, err)
	require.NotEmpty(t, created)

	for i, chunk := range created {
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.Equal(t, sourceID, chunk.SourceID)
		assert.Equal(t, notebookID, chunk.NotebookID)
		assert.NotEmpty(t, chunk.PlainText)
		assert.NotEmpty(t, chunk.Embedding)
		assert.Less(t, chunk.StartOffset, chunk.EndOffset)
	}

	// One embedding request per chunk text, in order.
	require.Len(t, llm.embedCalls, 1)
	assert.Len(t, llm.embedCalls[0], len(created))
}

func TestRAGIngest_EmptyTextIsValidationError(t *testing.T) {
	svc := NewRAGIngestService(&fakeChunkRepo{}, &fakeLLM{}, 512, 100)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := svc.IngestDocument(context.Background(), uuid.New(), uuid.New(), text, nil)
		require.Error(t, err)
		domainErr, ok := apperrors.As(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.CodeValidation, domainErr.Code)
	}
}

func TestRAGIngest_EmbeddingFailureIsExternalServiceError(t *testing.T) {
	llm := &fakeLLM{embedFn: func([]string) ([][]float32, error) {
		return nil, errors.New("upstream down")
	}}
	svc := NewRAGIngestService(&fakeChunkRepo{}, llm, 512, 100)

	_, err := svc.IngestDocument(context.Background(), uuid.New(), uuid.New(), "some document text", nil)
	require.Error(t, err)
	domainErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeExternalService, domainErr.Code)
}

func TestRAGIngest_ChunkCountMismatchFails(t *testing.T) {
	llm := &fakeLLM{embedFn: func(texts []string) ([][]float32, error) {
		return [][]float32{{1, 0}}, nil // always one vector
	}}
	svc := NewRAGIngestService(&fakeChunkRepo{}, llm, 5, 0)

	_, err := svc.IngestDocument(context.Background(), uuid.New(), uuid.New(), "this splits into several chunks", nil)
	require.Error(t, err)
}
