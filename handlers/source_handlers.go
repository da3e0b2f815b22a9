package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
)

type SourceHandlers struct {
	sourceService services.SourceService
	chatService   services.ChatService
}

func NewSourceHandlers(sourceService services.SourceService, chatService services.ChatService) *SourceHandlers {
	return &SourceHandlers{sourceService: sourceService, chatService: chatService}
}

// Upload accepts multipart form data with files (bulk), a single file, a url
// or raw text, in that priority order. File batches skip invalid entries
// instead of failing the batch; url and text create exactly one source.
func (h *SourceHandlers) Upload(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	notebookID, err := pathUUID(c, "notebook_id")
	if err != nil {
		RespondError(c, err)
		return
	}

	var headers []*multipart.FileHeader
	if form, err := c.MultipartForm(); err == nil && form != nil {
		headers = append(headers, form.File["files"]...)
		headers = append(headers, form.File["file"]...)
	}

	if len(headers) > 0 {
		h.uploadFiles(c, userID, notebookID, headers)
		return
	}

	if rawURL := c.PostForm("url"); rawURL != "" {
		source, err := h.sourceService.AddURLSource(c.Request.Context(), userID, notebookID, rawURL)
		if err != nil {
			RespondError(c, err)
			return
		}
		respondSourceCreated(c, source)
		return
	}

	if text := c.PostForm("text"); text != "" {
		source, err := h.sourceService.AddTextSource(c.Request.Context(), userID, notebookID, c.PostForm("title"), text)
		if err != nil {
			RespondError(c, err)
			return
		}
		respondSourceCreated(c, source)
		return
	}

	RespondError(c, apperrors.NewValidation("Either files, url, or text must be provided"))
}

func (h *SourceHandlers) uploadFiles(c *gin.Context, userID, notebookID uuid.UUID, headers []*multipart.FileHeader) {
	uploads := make([]services.NewFileUpload, 0, len(headers))
	for _, fh := range headers {
		upload, err := readUpload(fh)
		if err != nil {
			RespondError(c, apperrors.NewValidation(fmt.Sprintf("Failed to read uploaded file %q", fh.Filename)))
			return
		}
		uploads = append(uploads, upload)
	}

	sources, err := h.sourceService.AddFileSources(c.Request.Context(), userID, notebookID, uploads)
	if err != nil {
		RespondError(c, err)
		return
	}

	items := make([]models.SourceUploadItem, 0, len(sources))
	for _, s := range sources {
		items = append(items, models.SourceUploadItem{ID: s.ID, Title: s.Title, Status: s.Status})
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"count":     len(items),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func respondSourceCreated(c *gin.Context, source *models.Source) {
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"sourceId":    source.ID,
			"sourceTitle": source.Title,
			"status":      source.Status,
			"message":     "Source uploaded successfully. Processing in background...",
		},
		"meta": gin.H{
			"version":   "v1",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func readUpload(fh *multipart.FileHeader) (services.NewFileUpload, error) {
	f, err := fh.Open()
	if err != nil {
		return services.NewFileUpload{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return services.NewFileUpload{}, err
	}
	return services.NewFileUpload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (h *SourceHandlers) List(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	notebookID, err := pathUUID(c, "notebook_id")
	if err != nil {
		RespondError(c, err)
		return
	}

	sources, err := h.sourceService.List(c.Request.Context(), notebookID, userID)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sources)
}

func (h *SourceHandlers) Get(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	sourceID, err := pathUUID(c, "source_id")
	if err != nil {
		RespondError(c, err)
		return
	}

	source, err := h.sourceService.Get(c.Request.Context(), sourceID, userID)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, source)
}

// Delete removes the source row and its chunks. The stored object is left
// for the storage lifecycle policy to reap.
func (h *SourceHandlers) Delete(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	sourceID, err := pathUUID(c, "source_id")
	if err != nil {
		RespondError(c, err)
		return
	}

	if err := h.sourceService.Delete(c.Request.Context(), sourceID, userID); err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Message{Message: "Source deleted successfully"})
}

// CreateConversation starts a conversation anchored to a source. Title and
// mode come from query parameters; the title defaults to the source title.
func (h *SourceHandlers) CreateConversation(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	sourceID, err := pathUUID(c, "source_id")
	if err != nil {
		RespondError(c, err)
		return
	}

	source, err := h.sourceService.Get(c.Request.Context(), sourceID, userID)
	if err != nil {
		RespondError(c, err)
		return
	}

	title := c.Query("title")
	if title == "" {
		title = "Chat about " + source.Title
	}

	req := models.CreateConversationRequest{
		NotebookID: source.NotebookID,
		SourceID:   &sourceID,
		Title:      title,
		Mode:       models.ConversationMode(c.DefaultQuery("mode", string(models.ConversationModeChat))),
	}

	conversation, err := h.chatService.CreateConversation(c.Request.Context(), userID, req)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}
