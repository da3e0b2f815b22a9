package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
)

type ChatHandlers struct {
	chatService services.ChatService
}

func NewChatHandlers(chatService services.ChatService) *ChatHandlers {
	return &ChatHandlers{chatService: chatService}
}

func (h *ChatHandlers) CreateConversation(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	conversation, err := h.chatService.CreateConversation(c.Request.Context(), userID, req)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, conversation)
}

func (h *ChatHandlers) ListConversations(c *gin.Context) {
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

	conversations, err := h.chatService.ListConversations(c.Request.Context(), notebookID, userID)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ConversationListResponse{
		Conversations: conversations,
		Total:         int64(len(conversations)),
	})
}

// GetConversation returns the conversation with its full message history.
func (h *ChatHandlers) GetConversation(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	conversationID, err := pathUUID(c, "conversation_id")
	if err != nil {
		RespondError(c, err)
		return
	}

	conversation, err := h.chatService.GetConversation(c.Request.Context(), conversationID, userID)
	if err != nil {
		RespondError(c, err)
		return
	}

	messages, err := h.chatService.ListMessages(c.Request.Context(), conversationID, userID, 0)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ConversationDetail{
		Conversation: *conversation,
		Messages:     messages,
	})
}

func (h *ChatHandlers) UpdateConversation(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	conversationID, err := pathUUID(c, "conversation_id")
	if err != nil {
		RespondError(c, err)
		return
	}

	var req models.UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	conversation, err := h.chatService.UpdateConversation(c.Request.Context(), conversationID, userID, req)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}

func (h *ChatHandlers) DeleteConversation(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	conversationID, err := pathUUID(c, "conversation_id")
	if err != nil {
		RespondError(c, err)
		return
	}

	if err := h.chatService.DeleteConversation(c.Request.Context(), conversationID, userID); err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Message{Message: "Conversation deleted successfully"})
}

// SendMessage appends a user turn and returns the generated assistant reply.
func (h *ChatHandlers) SendMessage(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	conversationID, err := pathUUID(c, "conversation_id")
	if err != nil {
		RespondError(c, err)
		return
	}

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	useRAG := true
	if req.UseRAG != nil {
		useRAG = *req.UseRAG
	}

	message, err := h.chatService.SendMessage(c.Request.Context(), conversationID, userID, req.Content, useRAG)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, message)
}

func (h *ChatHandlers) ListMessages(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	conversationID, err := pathUUID(c, "conversation_id")
	if err != nil {
		RespondError(c, err)
		return
	}

	limit := intQuery(c, "limit", 100)

	messages, err := h.chatService.ListMessages(c.Request.Context(), conversationID, userID, limit)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.MessageListResponse{
		Messages: messages,
		Total:    int64(len(messages)),
	})
}

func uuidQuery(c *gin.Context, name string) (uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return uuid.Nil, apperrors.NewValidation(name + " query parameter is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.NewValidation("Invalid " + name + " format")
	}
	return id, nil
}
