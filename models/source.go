package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SourceStatus string
type SourceType string

const (
	SourceStatusPending    SourceStatus = "pending"
	SourceStatusProcessing SourceStatus = "processing"
	SourceStatusCompleted  SourceStatus = "completed"
	SourceStatusFailed     SourceStatus = "failed"

	SourceTypeFile SourceType = "file"
	SourceTypeURL  SourceType = "url"
	SourceTypeText SourceType = "text"
)

type Source struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	NotebookID uuid.UUID `json:"notebook_id" gorm:"type:uuid;not null;index"`

	Type        SourceType   `json:"type" gorm:"type:varchar(50);not null"`
	Title       string       `json:"title" gorm:"type:varchar(512);not null"`
	OriginalURL *string      `json:"original_url,omitempty" gorm:"type:text"`
	FilePath    *string      `json:"file_path,omitempty" gorm:"type:text"`
	Status      SourceStatus `json:"status" gorm:"type:varchar(50);not null;default:'pending'"`

	Metadata datatypes.JSON `json:"metadata" gorm:"type:jsonb;default:'{}'"`

	CreatedAt time.Time  `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null;default:now()"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" gorm:"index"`
}

func (Source) TableName() string {
	return "sources"
}

// SourceUploadItem is the per-source payload returned by the upload endpoint.
type SourceUploadItem struct {
	ID     uuid.UUID    `json:"id"`
	Title  string       `json:"title"`
	Status SourceStatus `json:"status"`
}
