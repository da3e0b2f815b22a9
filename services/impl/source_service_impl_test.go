package impl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
)

type stubProcessing struct {
	mu     sync.Mutex
	called []uuid.UUID
}

func (s *stubProcessing) ProcessSource(_ context.Context, sourceID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.called = append(s.called, sourceID)
	return nil
}

type sourceServiceFixture struct {
	sources    *fakeSourceRepo
	chunks     *fakeChunkRepo
	notebooks  *fakeNotebookService
	storage    services.StorageProvider
	processing *stubProcessing
	ingest     *stubIngest
	dispatcher *fakeDispatcher
	svc        services.SourceService

	userID     uuid.UUID
	notebookID uuid.UUID
}

func newSourceServiceFixture() *sourceServiceFixture {
	f := &sourceServiceFixture{
		sources:    newFakeSourceRepo(),
		chunks:     &fakeChunkRepo{},
		notebooks:  newFakeNotebookService(),
		storage:    NewMemoryStorageProvider(),
		processing: &stubProcessing{},
		ingest:     &stubIngest{},
		dispatcher: &fakeDispatcher{},
		userID:     uuid.New(),
		notebookID: uuid.New(),
	}
	f.notebooks.grant(f.notebookID, f.userID)
	f.svc = NewSourceService(f.sources, f.chunks, f.notebooks, f.storage, f.processing, f.ingest, f.dispatcher, time.Minute)
	return f
}

func TestAddFileSources_SkipsInvalidFilesWithoutFailing(t *testing.T) {
	f := newSourceServiceFixture()

	files := []services.NewFileUpload{
		{Filename: "notes.txt", ContentType: "text/plain", Data: []byte("useful content")},
		{Filename: "binary.exe", ContentType: "application/octet-stream", Data: []byte{0x4d}},
		{Filename: "huge.pdf", ContentType: "application/pdf", Data: make([]byte, maxUploadBytes+1)},
	}

	created, err := f.svc.AddFileSources(context.Background(), f.userID, f.notebookID, files)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "notes.txt", created[0].Title)
	assert.Equal(t, models.SourceTypeFile, created[0].Type)
	assert.Equal(t, models.SourceStatusProcessing, created[0].Status)

	// Storage key carries the tenant path and the original filename.
	require.NotNil(t, created[0].FilePath)
	prefix := fmt.Sprintf("%s/notebooks/%s/sources/", f.userID, f.notebookID)
	assert.True(t, strings.HasPrefix(*created[0].FilePath, prefix), *created[0].FilePath)
	assert.True(t, strings.HasSuffix(*created[0].FilePath, "-notes.txt"))

	exists, err := f.storage.Exists(context.Background(), *created[0].FilePath)
	require.NoError(t, err)
	assert.True(t, exists)

	// One processing task was dispatched and ran.
	assert.Equal(t, []string{"process_source"}, f.dispatcher.names)
	assert.Equal(t, []uuid.UUID{created[0].ID}, f.processing.called)
}

func TestAddFileSources_ExtensionFallbackWhenContentTypeMissing(t *testing.T) {
	f := newSourceServiceFixture()

	created, err := f.svc.AddFileSources(context.Background(), f.userID, f.notebookID, []services.NewFileUpload{
		{Filename: "readme.md", ContentType: "application/octet-stream", Data: []byte("# heading")},
	})
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestAddFileSources_CrossTenantNotebookIsNotFound(t *testing.T) {
	f := newSourceServiceFixture()
	otherUser := uuid.New()

	_, err := f.svc.AddFileSources(context.Background(), otherUser, f.notebookID, []services.NewFileUpload{
		{Filename: "notes.txt", ContentType: "text/plain", Data: []byte("x")},
	})
	require.Error(t, err)
	domainErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeNotFound, domainErr.Code)
}

func TestAddTextSource_IngestsInBackgroundAndCompletes(t *testing.T) {
	f := newSourceServiceFixture()

	source, err := f.svc.AddTextSource(context.Background(), f.userID, f.notebookID, "My Notes", "long enough text\r\nwith windows line endings")
	require.NoError(t, err)
	assert.Equal(t, "My Notes", source.Title)
	assert.Equal(t, models.SourceTypeText, source.Type)

	// The inline dispatcher already ran the ingest task.
	assert.Equal(t, models.SourceStatusCompleted, f.sources.status(source.ID))
	assert.Equal(t, "long enough text\nwith windows line endings", f.ingest.gotText)
	assert.Equal(t, "My Notes", f.ingest.gotMeta["title"])
	assert.Equal(t, "text", f.ingest.gotMeta["type"])
}

func TestAddTextSource_DefaultTitle(t *testing.T) {
	f := newSourceServiceFixture()

	source, err := f.svc.AddTextSource(context.Background(), f.userID, f.notebookID, "", "content long enough to pass validation")
	require.NoError(t, err)
	assert.Equal(t, "Text Document", source.Title)
}

func TestAddTextSource_TooShortIsValidationError(t *testing.T) {
	f := newSourceServiceFixture()

	_, err := f.svc.AddTextSource(context.Background(), f.userID, f.notebookID, "t", "short")
	require.Error(t, err)
	domainErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeValidation, domainErr.Code)
}

func TestAddTextSource_IngestFailureMarksSourceFailed(t *testing.T) {
	f := newSourceServiceFixture()
	f.ingest.err = apperrors.NewExternalService("LLMClient", "Failed to generate embeddings")

	source, err := f.svc.AddTextSource(context.Background(), f.userID, f.notebookID, "t", "content long enough to pass validation")
	require.NoError(t, err)

	assert.Equal(t, models.SourceStatusFailed, f.sources.status(source.ID))
	assert.Contains(t, f.sources.lastError, "Processing error:")
}

func TestAddURLSource_ExtractsArticleAndCompletes(t *testing.T) {
	f := newSourceServiceFixture()

	page := `<!DOCTYPE html><html><head><title>Go Scheduler Internals</title></head><body>
<article><h1>Go Scheduler Internals</h1>
<p>The Go runtime multiplexes goroutines onto operating system threads using a work stealing scheduler.</p>
<p>Each processor keeps a local run queue and falls back to the global queue when local work runs out.</p>
<p>Network pollers park goroutines until their file descriptors become ready again.</p>
</article></body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	defer server.Close()

	source, err := f.svc.AddURLSource(context.Background(), f.userID, f.notebookID, server.URL)
	require.NoError(t, err)
	assert.Equal(t, models.SourceTypeURL, source.Type)
	require.NotNil(t, source.OriginalURL)
	assert.Equal(t, server.URL, *source.OriginalURL)
	assert.Contains(t, source.Title, "Go Scheduler")

	assert.Equal(t, models.SourceStatusCompleted, f.sources.status(source.ID))
	assert.Contains(t, f.ingest.gotText, "work stealing scheduler")
}

func TestAddURLSource_NotFoundPageIsValidationError(t *testing.T) {
	f := newSourceServiceFixture()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := f.svc.AddURLSource(context.Background(), f.userID, f.notebookID, server.URL)
	require.Error(t, err)
	domainErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeValidation, domainErr.Code)
	assert.Contains(t, domainErr.Message, "404")
}

func TestAddURLSource_RejectsNonHTTPSchemes(t *testing.T) {
	f := newSourceServiceFixture()

	_, err := f.svc.AddURLSource(context.Background(), f.userID, f.notebookID, "ftp://example.com/file")
	require.Error(t, err)
	domainErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeValidation, domainErr.Code)
}

func TestDeleteSource_RemovesChunksAndSoftDeletesRow(t *testing.T) {
	f := newSourceServiceFixture()

	source := &models.Source{ID: uuid.New(), NotebookID: f.notebookID, Type: models.SourceTypeText, Title: "t", Status: models.SourceStatusCompleted}
	f.sources.put(source)
	_, err := f.chunks.BulkCreate(context.Background(), []models.Chunk{
		{SourceID: source.ID, NotebookID: f.notebookID, PlainText: "chunk"},
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(context.Background(), source.ID, f.userID))

	remaining, err := f.chunks.ListBySource(context.Background(), source.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	listed, err := f.sources.ListByNotebook(context.Background(), f.notebookID)
	require.NoError(t, err)
	assert.Empty(t, listed)
}
