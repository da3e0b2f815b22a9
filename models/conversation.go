package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type ConversationMode string
type MessageRole string

const (
	ConversationModeChat         ConversationMode = "chat"
	ConversationModeTutor        ConversationMode = "tutor"
	ConversationModeFactChecker  ConversationMode = "fact-checker"
	ConversationModeBrainstormer ConversationMode = "brainstormer"

	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

type Conversation struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	NotebookID uuid.UUID  `json:"notebook_id" gorm:"type:uuid;not null;index"`
	UserID     uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;index"`
	SourceID   *uuid.UUID `json:"source_id,omitempty" gorm:"type:uuid;index"`

	Title string           `json:"title" gorm:"type:varchar(512);not null"`
	Mode  ConversationMode `json:"mode" gorm:"type:varchar(50);not null;default:'chat'"`

	CreatedAt time.Time  `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null;default:now()"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" gorm:"index"`
}

func (Conversation) TableName() string {
	return "conversations"
}

type Message struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ConversationID uuid.UUID `json:"conversation_id" gorm:"type:uuid;not null;index"`

	Role    MessageRole `json:"role" gorm:"type:varchar(20);not null"`
	Content string      `json:"content" gorm:"type:text;not null"`

	// ChunkIDs records which retrieved chunks grounded this message.
	ChunkIDs pq.StringArray `json:"chunk_ids" gorm:"type:uuid[]"`
	Metadata datatypes.JSON `json:"metadata" gorm:"type:jsonb;default:'{}'"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
}

func (Message) TableName() string {
	return "messages"
}

type CreateConversationRequest struct {
	NotebookID uuid.UUID        `json:"notebook_id" binding:"required"`
	SourceID   *uuid.UUID       `json:"source_id,omitempty"`
	Title      string           `json:"title"`
	Mode       ConversationMode `json:"mode"`
}

type UpdateConversationRequest struct {
	Title *string           `json:"title,omitempty" binding:"omitempty,min=1,max=512"`
	Mode  *ConversationMode `json:"mode,omitempty"`
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required,min=1"`
	// UseRAG defaults to true; set false to answer from the conversation
	// mode's prompt alone.
	UseRAG *bool `json:"use_rag,omitempty"`
}

type ConversationListResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int64          `json:"total"`
}

type MessageListResponse struct {
	Messages []Message `json:"messages"`
	Total    int64     `json:"total"`
}

// ConversationDetail is a conversation with its full message history, as
// returned by the single-conversation endpoint.
type ConversationDetail struct {
	Conversation
	Messages []Message `json:"messages"`
}
