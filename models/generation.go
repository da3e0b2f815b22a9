package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type GenerationType string

const (
	GenerationTypeSummary    GenerationType = "summary"
	GenerationTypeQuiz       GenerationType = "quiz"
	GenerationTypeStudyGuide GenerationType = "study_guide"
	GenerationTypeMindmap    GenerationType = "mindmap"
	GenerationTypeChat       GenerationType = "chat"
)

type Quiz struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	NotebookID uuid.UUID `json:"notebook_id" gorm:"type:uuid;not null;index"`
	UserID     uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`

	Topic     string         `json:"topic" gorm:"type:varchar(512);not null"`
	Questions datatypes.JSON `json:"questions" gorm:"type:jsonb;not null"`
	Model     string         `json:"model" gorm:"type:varchar(100)"`
	Version   int            `json:"version" gorm:"default:1"`

	Metadata datatypes.JSON `json:"metadata" gorm:"type:jsonb;default:'{}'"`

	CreatedAt time.Time  `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null;default:now()"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" gorm:"index"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

type StudyGuide struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	NotebookID uuid.UUID `json:"notebook_id" gorm:"type:uuid;not null;index"`
	UserID     uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`

	Topic   string `json:"topic" gorm:"type:varchar(512);not null"`
	Content string `json:"content" gorm:"type:text;not null"`
	Model   string `json:"model" gorm:"type:varchar(100)"`
	Version int    `json:"version" gorm:"default:1"`

	Metadata datatypes.JSON `json:"metadata" gorm:"type:jsonb;default:'{}'"`

	CreatedAt time.Time  `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null;default:now()"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" gorm:"index"`
}

func (StudyGuide) TableName() string {
	return "study_guides"
}

// GenerationHistory is the audit trail of every AI generation a user ran.
type GenerationHistory struct {
	ID     uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`

	Type           GenerationType `json:"type" gorm:"type:varchar(50);not null"`
	Title          string         `json:"title" gorm:"type:varchar(512);not null"`
	Content        string         `json:"content" gorm:"type:text"`
	ContentPreview string         `json:"content_preview" gorm:"type:varchar(255)"`

	ResourceID *uuid.UUID `json:"resource_id,omitempty" gorm:"type:uuid;index"`
	NotebookID *uuid.UUID `json:"notebook_id,omitempty" gorm:"type:uuid;index"`

	Metadata datatypes.JSON `json:"metadata" gorm:"type:jsonb;default:'{}'"`

	CreatedAt time.Time  `json:"created_at" gorm:"not null;default:now()"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" gorm:"index"`
}

func (GenerationHistory) TableName() string {
	return "generation_history"
}

type QuizGenerateRequest struct {
	Topic        string `json:"topic" binding:"required,min=1"`
	NumQuestions int    `json:"num_questions"`
	Difficulty   string `json:"difficulty"`
}

type SummaryGenerateRequest struct {
	Style     string `json:"style"`
	MaxLength int    `json:"max_length"`
}

type StudyGuideGenerateRequest struct {
	Topic  string `json:"topic"`
	Format string `json:"format"`
}

type MindmapGenerateRequest struct {
	Format string `json:"format"`
}

type TextMindmapRequest struct {
	Text   string `json:"text" binding:"required,min=1"`
	Format string `json:"format"`
}

type QuizListResponse struct {
	Quizzes []Quiz `json:"quizzes"`
	Total   int64  `json:"total"`
}
