package impl

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/metrics"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
	"github.com/mindspring-backend/services/ingest"
)

// presignTTL bounds how long the extraction step may read the uploaded
// object.
const presignTTL = 600 * time.Second

// sourceProcessingService walks an uploaded source through its state
// machine: processing, text extraction, ingestion, then completed. Every
// failure path ends in status=failed with a categorized reason; a source is
// never left in processing once ProcessSource returns.
type sourceProcessingService struct {
	sources   services.SourceRepository
	storage   services.StorageProvider
	ingestSvc services.RAGIngestService
	extractor *ingest.Extractor
}

func NewSourceProcessingService(sources services.SourceRepository, storage services.StorageProvider, ingestSvc services.RAGIngestService) services.SourceProcessingService {
	return &sourceProcessingService{
		sources:   sources,
		storage:   storage,
		ingestSvc: ingestSvc,
		extractor: ingest.NewExtractor(),
	}
}

func (s *sourceProcessingService) ProcessSource(ctx context.Context, sourceID uuid.UUID) error {
	log.Info().Str("source_id", sourceID.String()).Msg("starting source processing")

	source, err := s.sources.GetByID(ctx, sourceID)
	if err != nil {
		s.markFailed(ctx, sourceID, "Source not found")
		return err
	}

	if err := s.sources.UpdateStatus(ctx, sourceID, models.SourceStatusProcessing, ""); err != nil {
		return err
	}

	storageKey := ""
	if source.FilePath != nil {
		storageKey = *source.FilePath
	}
	if storageKey == "" {
		s.markFailed(ctx, sourceID, "Storage key is missing")
		return nil
	}

	text, fileExt, rejectReason, err := s.extractText(ctx, storageKey)
	if rejectReason != "" {
		s.markFailed(ctx, sourceID, rejectReason)
		return nil
	}
	if err != nil {
		s.markFailed(ctx, sourceID, categorizeFailure(err))
		return err
	}

	if strings.TrimSpace(text) == "" {
		s.markFailed(ctx, sourceID, "No text extracted from file")
		return nil
	}
	log.Info().Str("source_id", sourceID.String()).Int("characters", len(text)).Msg("text extracted")

	_, err = s.ingestSvc.IngestDocument(ctx, source.NotebookID, source.ID, text, map[string]any{
		"storage_key": storageKey,
		"file_type":   fileExt,
		"text_length": len(text),
	})
	if err != nil {
		s.markFailed(ctx, sourceID, categorizeFailure(err))
		return err
	}

	if err := s.sources.UpdateStatus(ctx, sourceID, models.SourceStatusCompleted, ""); err != nil {
		return err
	}
	metrics.SourcesProcessed.WithLabelValues("completed").Inc()
	log.Info().Str("source_id", sourceID.String()).Msg("source processing completed")
	return nil
}

// extractText presigns the object and extracts text by extension. A
// non-empty rejectReason means a deterministic unprocessable input, not a
// transient failure.
func (s *sourceProcessingService) extractText(ctx context.Context, storageKey string) (text, fileExt, rejectReason string, err error) {
	// Older rows store the public URL instead of the bare key.
	actualKey := storageKey
	if strings.HasPrefix(storageKey, "http://") || strings.HasPrefix(storageKey, "https://") {
		if parsed, parseErr := url.Parse(storageKey); parseErr == nil {
			actualKey = strings.TrimPrefix(parsed.Path, "/")
		}
	}

	signedURL, err := s.storage.GetSignedURL(ctx, actualKey, presignTTL)
	if err != nil {
		return "", "", "", apperrors.NewExternalService("storage", "Failed to generate signed URL").WithCause(err)
	}

	fileExt = ingest.FileExt(actualKey)
	switch fileExt {
	case "pdf":
		text, err = s.extractor.PDFFromURL(ctx, signedURL)
		if err != nil {
			return "", fileExt, "", apperrors.NewExternalService("PDFProcessor", "Failed to extract text from PDF").WithCause(err)
		}
	case "txt", "md":
		text, err = s.extractor.PlainFromURL(ctx, signedURL)
		if err != nil {
			return "", fileExt, "", err
		}
	default:
		text, err = s.extractor.PlainFromURL(ctx, signedURL)
		if err != nil {
			return "", fileExt, fmt.Sprintf("Unsupported file type: %s", fileExt), nil
		}
	}
	return text, fileExt, "", nil
}

func (s *sourceProcessingService) markFailed(ctx context.Context, sourceID uuid.UUID, reason string) {
	metrics.SourcesProcessed.WithLabelValues("failed").Inc()
	if err := s.sources.UpdateStatus(ctx, sourceID, models.SourceStatusFailed, reason); err != nil {
		log.Error().Err(err).Str("source_id", sourceID.String()).Msg("failed to mark source failed")
	}
	log.Warn().Str("source_id", sourceID.String()).Str("reason", reason).Msg("source processing failed")
}

// categorizeFailure maps an error to the user-facing reason stored in
// metadata.error.
func categorizeFailure(err error) string {
	if domainErr, ok := apperrors.As(err); ok {
		switch domainErr.Code {
		case apperrors.CodeValidation, apperrors.CodeInvalidInput, apperrors.CodeMissingField:
			return fmt.Sprintf("Validation error: %s", domainErr.Message)
		case apperrors.CodeExternalService:
			return fmt.Sprintf("Processing error: %s", domainErr.Message)
		}
	}
	return fmt.Sprintf("Unexpected system error: %v", err)
}
