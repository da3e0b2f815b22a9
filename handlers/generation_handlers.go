package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
)

// GenerationHandlers exposes the study artifact generators. Source-scoped and
// notebook-scoped variants share request shapes; quiz reads go straight to
// the repository.
type GenerationHandlers struct {
	generationService services.GenerationService
	quizzes           services.QuizRepository
}

func NewGenerationHandlers(generationService services.GenerationService, quizzes services.QuizRepository) *GenerationHandlers {
	return &GenerationHandlers{generationService: generationService, quizzes: quizzes}
}

func (h *GenerationHandlers) SummarizeSource(c *gin.Context) {
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

	result, err := h.generationService.SummarizeSource(c.Request.Context(), sourceID, userID,
		c.DefaultQuery("style", "concise"), intQuery(c, "max_length", 500))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *GenerationHandlers) SummarizeNotebook(c *gin.Context) {
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

	result, err := h.generationService.SummarizeNotebook(c.Request.Context(), notebookID, userID,
		c.DefaultQuery("style", "concise"), intQuery(c, "max_length", 500))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *GenerationHandlers) QuizFromSource(c *gin.Context) {
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

	var req models.QuizGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	quiz, err := h.generationService.QuizFromSource(c.Request.Context(), sourceID, userID,
		req.Topic, req.NumQuestions, req.Difficulty)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, quiz)
}

func (h *GenerationHandlers) QuizFromNotebook(c *gin.Context) {
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

	var req models.QuizGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	quiz, err := h.generationService.QuizFromNotebook(c.Request.Context(), notebookID, userID,
		req.Topic, req.NumQuestions, req.Difficulty)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, quiz)
}

func (h *GenerationHandlers) StudyGuideFromSource(c *gin.Context) {
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

	var req models.StudyGuideGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	guide, err := h.generationService.StudyGuideFromSource(c.Request.Context(), sourceID, userID,
		req.Topic, req.Format)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, guide)
}

func (h *GenerationHandlers) StudyGuideFromNotebook(c *gin.Context) {
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

	var req models.StudyGuideGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	guide, err := h.generationService.StudyGuideFromNotebook(c.Request.Context(), notebookID, userID,
		req.Topic, req.Format)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, guide)
}

func (h *GenerationHandlers) MindmapFromSource(c *gin.Context) {
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

	result, err := h.generationService.MindmapFromSource(c.Request.Context(), sourceID, userID,
		c.DefaultQuery("format", "json"))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *GenerationHandlers) MindmapFromNotebook(c *gin.Context) {
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

	result, err := h.generationService.MindmapFromNotebook(c.Request.Context(), notebookID, userID,
		c.DefaultQuery("format", "json"))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// MindmapFromText turns freeform text into a mindmap without needing a
// source.
func (h *GenerationHandlers) MindmapFromText(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	var req models.TextMindmapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	result, err := h.generationService.MindmapFromText(c.Request.Context(), userID, req.Text, req.Format)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *GenerationHandlers) ListQuizzes(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	notebookID, err := uuidQuery(c, "notebook_id")
	if err != nil {
		RespondError(c, err)
		return
	}

	quizzes, err := h.quizzes.ListByNotebook(c.Request.Context(), notebookID, userID)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.QuizListResponse{
		Quizzes: quizzes,
		Total:   int64(len(quizzes)),
	})
}

func (h *GenerationHandlers) GetQuiz(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	quizID, err := pathUUID(c, "quiz_id")
	if err != nil {
		RespondError(c, err)
		return
	}

	quiz, err := h.quizzes.Get(c.Request.Context(), quizID, userID)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, quiz)
}
