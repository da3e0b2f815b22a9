package models

import (
	"time"

	"github.com/google/uuid"
)

type Notebook struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OwnerID     uuid.UUID `json:"owner_id" gorm:"type:uuid;not null;index"`
	Title       string    `json:"title" gorm:"type:varchar(255);not null"`
	Description string    `json:"description" gorm:"type:text"`

	Language         string  `json:"language" gorm:"type:varchar(10);default:'en'"`
	Tone             *string `json:"tone,omitempty" gorm:"type:varchar(50)"`
	MaxContextTokens int     `json:"max_context_tokens" gorm:"default:4000"`

	CreatedAt time.Time  `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null;default:now()"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" gorm:"index"`
}

func (Notebook) TableName() string {
	return "notebooks"
}

type CreateNotebookRequest struct {
	Title       string  `json:"title" binding:"required,min=1,max=255"`
	Description string  `json:"description" binding:"max=2000"`
	Language    string  `json:"language"`
	Tone        *string `json:"tone"`
}

type UpdateNotebookRequest struct {
	Title            *string `json:"title,omitempty" binding:"omitempty,min=1,max=255"`
	Description      *string `json:"description,omitempty" binding:"omitempty,max=2000"`
	Language         *string `json:"language,omitempty"`
	Tone             *string `json:"tone,omitempty"`
	MaxContextTokens *int    `json:"max_context_tokens,omitempty"`
}

type NotebookListResponse struct {
	Notebooks []Notebook `json:"notebooks"`
	Total     int64      `json:"total"`
	Skip      int        `json:"skip"`
	Limit     int        `json:"limit"`
}
