package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/mindspring-backend/models"
)

// ChatService owns conversations and the RAG answer flow.
type ChatService interface {
	CreateConversation(ctx context.Context, userID uuid.UUID, req models.CreateConversationRequest) (*models.Conversation, error)
	GetConversation(ctx context.Context, id, userID uuid.UUID) (*models.Conversation, error)
	ListConversations(ctx context.Context, notebookID, userID uuid.UUID) ([]models.Conversation, error)
	UpdateConversation(ctx context.Context, id, userID uuid.UUID, req models.UpdateConversationRequest) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, id, userID uuid.UUID) error

	ListMessages(ctx context.Context, conversationID, userID uuid.UUID, limit int) ([]models.Message, error)

	// SendMessage appends the user turn, generates the assistant reply
	// (grounded in retrieved chunks when useRAG is true) and returns the
	// stored assistant message. Retrieval failures degrade to an ungrounded
	// answer; they never fail the send.
	SendMessage(ctx context.Context, conversationID, userID uuid.UUID, content string, useRAG bool) (*models.Message, error)
}
