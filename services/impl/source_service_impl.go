package impl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
	"github.com/mindspring-backend/services/ingest"
)

const maxUploadBytes = 50 * 1024 * 1024

var allowedUploadContentTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"text/markdown":   true,
}

var allowedUploadExtensions = map[string]bool{
	"pdf": true,
	"txt": true,
	"md":  true,
}

// sourceService creates sources and hands their heavy lifting to background
// tasks. File uploads go through storage and the processing state machine;
// URL and text sources are extracted inline and ingested in the background.
type sourceService struct {
	sources    services.SourceRepository
	chunks     services.ChunkRepository
	notebooks  services.NotebookService
	storage    services.StorageProvider
	processing services.SourceProcessingService
	ragIngest  services.RAGIngestService
	dispatcher services.TaskDispatcher
	extractor  *ingest.Extractor

	processingTimeout time.Duration
}

func NewSourceService(
	sources services.SourceRepository,
	chunks services.ChunkRepository,
	notebooks services.NotebookService,
	storage services.StorageProvider,
	processing services.SourceProcessingService,
	ragIngest services.RAGIngestService,
	dispatcher services.TaskDispatcher,
	processingTimeout time.Duration,
) services.SourceService {
	return &sourceService{
		sources:           sources,
		chunks:            chunks,
		notebooks:         notebooks,
		storage:           storage,
		processing:        processing,
		ragIngest:         ragIngest,
		dispatcher:        dispatcher,
		extractor:         ingest.NewExtractor(),
		processingTimeout: processingTimeout,
	}
}

func (s *sourceService) AddFileSources(ctx context.Context, userID, notebookID uuid.UUID, files []services.NewFileUpload) ([]models.Source, error) {
	if _, err := s.notebooks.Get(ctx, notebookID, userID); err != nil {
		return nil, err
	}

	created := make([]models.Source, 0, len(files))
	for _, file := range files {
		if reason := rejectUpload(file); reason != "" {
			log.Warn().Str("filename", file.Filename).Str("reason", reason).Msg("skipping file")
			continue
		}

		storageKey := fmt.Sprintf("%s/notebooks/%s/sources/%d-%s",
			userID, notebookID, time.Now().UnixMilli(), file.Filename)
		if _, err := s.storage.Store(ctx, storageKey, file.Data, file.ContentType); err != nil {
			return nil, apperrors.NewExternalService("storage", "Failed to store uploaded file").WithCause(err)
		}

		metadata, err := models.ConvertToJSON(map[string]any{
			"uploadedBy": userID.String(),
			"fileSize":   len(file.Data),
			"mimeType":   file.ContentType,
		})
		if err != nil {
			return nil, apperrors.NewInternal("failed to encode source metadata").WithCause(err)
		}

		source := &models.Source{
			ID:         uuid.New(),
			NotebookID: notebookID,
			Type:       models.SourceTypeFile,
			Title:      file.Filename,
			FilePath:   &storageKey,
			Status:     models.SourceStatusProcessing,
			Metadata:   metadata,
		}
		if err := s.sources.Create(ctx, source); err != nil {
			return nil, err
		}

		sourceID := source.ID
		s.dispatcher.Dispatch("process_source", s.processingTimeout, func(taskCtx context.Context) {
			if err := s.processing.ProcessSource(taskCtx, sourceID); err != nil {
				log.Error().Err(err).Str("source_id", sourceID.String()).Msg("source processing task failed")
			}
		})
		created = append(created, *source)
	}
	return created, nil
}

func (s *sourceService) AddURLSource(ctx context.Context, userID, notebookID uuid.UUID, rawURL string) (*models.Source, error) {
	if _, err := s.notebooks.Get(ctx, notebookID, userID); err != nil {
		return nil, err
	}

	title, text, err := s.extractor.ArticleFromURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidation("No content extracted from source")
	}
	if title == "" {
		title = rawURL
	}

	source, err := s.createPendingIngest(ctx, notebookID, models.SourceTypeURL, title, &rawURL)
	if err != nil {
		return nil, err
	}
	s.dispatchIngest(source, title, string(models.SourceTypeURL), text)
	return source, nil
}

func (s *sourceService) AddTextSource(ctx context.Context, userID, notebookID uuid.UUID, title, text string) (*models.Source, error) {
	if _, err := s.notebooks.Get(ctx, notebookID, userID); err != nil {
		return nil, err
	}

	normalized, err := ingest.NormalizeText(text)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = "Text Document"
	}

	source, err := s.createPendingIngest(ctx, notebookID, models.SourceTypeText, title, nil)
	if err != nil {
		return nil, err
	}
	s.dispatchIngest(source, title, string(models.SourceTypeText), normalized)
	return source, nil
}

func (s *sourceService) createPendingIngest(ctx context.Context, notebookID uuid.UUID, sourceType models.SourceType, title string, originalURL *string) (*models.Source, error) {
	metadata, err := models.ConvertToJSON(map[string]any{
		"type":  sourceType,
		"title": title,
	})
	if err != nil {
		return nil, apperrors.NewInternal("failed to encode source metadata").WithCause(err)
	}

	source := &models.Source{
		ID:          uuid.New(),
		NotebookID:  notebookID,
		Type:        sourceType,
		Title:       title,
		OriginalURL: originalURL,
		Status:      models.SourceStatusProcessing,
		Metadata:    metadata,
	}
	if err := s.sources.Create(ctx, source); err != nil {
		return nil, err
	}
	return source, nil
}

// dispatchIngest chunks and embeds already-extracted content off the request
// path, then settles the source status.
func (s *sourceService) dispatchIngest(source *models.Source, title, sourceType, text string) {
	sourceID := source.ID
	notebookID := source.NotebookID
	s.dispatcher.Dispatch("ingest_source", s.processingTimeout, func(taskCtx context.Context) {
		_, err := s.ragIngest.IngestDocument(taskCtx, notebookID, sourceID, text, map[string]any{
			"title": title,
			"type":  sourceType,
		})
		if err != nil {
			log.Error().Err(err).Str("source_id", sourceID.String()).Msg("background ingest failed")
			if updateErr := s.sources.UpdateStatus(taskCtx, sourceID, models.SourceStatusFailed, categorizeFailure(err)); updateErr != nil {
				log.Error().Err(updateErr).Str("source_id", sourceID.String()).Msg("failed to mark source failed")
			}
			return
		}
		if err := s.sources.UpdateStatus(taskCtx, sourceID, models.SourceStatusCompleted, ""); err != nil {
			log.Error().Err(err).Str("source_id", sourceID.String()).Msg("failed to mark source completed")
		}
	})
}

func (s *sourceService) Get(ctx context.Context, id, userID uuid.UUID) (*models.Source, error) {
	return s.sources.GetOwned(ctx, id, userID)
}

func (s *sourceService) List(ctx context.Context, notebookID, userID uuid.UUID) ([]models.Source, error) {
	if _, err := s.notebooks.Get(ctx, notebookID, userID); err != nil {
		return nil, err
	}
	return s.sources.ListByNotebook(ctx, notebookID)
}

func (s *sourceService) Delete(ctx context.Context, id, userID uuid.UUID) error {
	source, err := s.sources.GetOwned(ctx, id, userID)
	if err != nil {
		return err
	}
	// Chunks leave the search index immediately; the row itself is kept.
	if err := s.chunks.DeleteBySource(ctx, source.ID); err != nil {
		return err
	}
	return s.sources.SoftDelete(ctx, source.ID)
}

// rejectUpload returns a human-readable reason when the file cannot be
// accepted, empty when it can.
func rejectUpload(file services.NewFileUpload) string {
	ext := ingest.FileExt(file.Filename)
	if !allowedUploadContentTypes[file.ContentType] && !allowedUploadExtensions[ext] {
		return "unsupported file type"
	}
	if len(file.Data) > maxUploadBytes {
		return "file exceeds 50MB limit"
	}
	return ""
}
