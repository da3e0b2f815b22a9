package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
)

type NotebookHandlers struct {
	notebookService services.NotebookService
}

func NewNotebookHandlers(notebookService services.NotebookService) *NotebookHandlers {
	return &NotebookHandlers{notebookService: notebookService}
}

func (h *NotebookHandlers) Create(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	var req models.CreateNotebookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	notebook, err := h.notebookService.Create(c.Request.Context(), userID, req)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, notebook)
}

func (h *NotebookHandlers) List(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	skip := intQuery(c, "skip", 0)
	limit := intQuery(c, "limit", 20)

	resp, err := h.notebookService.List(c.Request.Context(), userID, skip, limit)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *NotebookHandlers) Get(c *gin.Context) {
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

	notebook, err := h.notebookService.Get(c.Request.Context(), notebookID, userID)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, notebook)
}

func (h *NotebookHandlers) Update(c *gin.Context) {
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

	var req models.UpdateNotebookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	notebook, err := h.notebookService.Update(c.Request.Context(), notebookID, userID, req)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, notebook)
}

// Delete soft-deletes the notebook. Sources and conversations inside it stop
// being reachable but stay restorable until a hard cleanup runs.
func (h *NotebookHandlers) Delete(c *gin.Context) {
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

	if err := h.notebookService.Delete(c.Request.Context(), notebookID, userID); err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Message{Message: "Notebook deleted successfully"})
}

func (h *NotebookHandlers) Restore(c *gin.Context) {
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

	notebook, err := h.notebookService.Restore(c.Request.Context(), notebookID, userID)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, notebook)
}
