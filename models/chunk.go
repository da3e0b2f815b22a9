package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// Chunk is one embedded window of a source's extracted text. The embedding
// is stored twice: as a pgvector column used for distance ordering and as a
// JSONB mirror kept for export and debugging.
type Chunk struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	SourceID   uuid.UUID `json:"source_id" gorm:"type:uuid;not null;index"`
	NotebookID uuid.UUID `json:"notebook_id" gorm:"type:uuid;not null;index"`

	PlainText   string `json:"plain_text" gorm:"type:text;not null"`
	ChunkIndex  int    `json:"chunk_index" gorm:"not null"`
	StartOffset int    `json:"start_offset" gorm:"not null"`
	EndOffset   int    `json:"end_offset" gorm:"not null"`

	Embedding       datatypes.JSON  `json:"-" gorm:"column:embedding;type:jsonb"`
	EmbeddingVector pgvector.Vector `json:"-" gorm:"column:embedding_vector;type:vector(1536)"`

	Metadata datatypes.JSON `json:"metadata" gorm:"type:jsonb;default:'{}'"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
}

func (Chunk) TableName() string {
	return "chunks"
}
