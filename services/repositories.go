package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/mindspring-backend/models"
)

// SourceRepository persists sources and their processing status. Reads that
// take a userID verify ownership through the notebook and report foreign
// rows as not found.
type SourceRepository interface {
	Create(ctx context.Context, source *models.Source) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Source, error)
	GetOwned(ctx context.Context, id, userID uuid.UUID) (*models.Source, error)
	ListByNotebook(ctx context.Context, notebookID uuid.UUID) ([]models.Source, error)

	// UpdateStatus transitions the source state machine. A non-empty
	// errorMessage is recorded under metadata.error.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.SourceStatus, errorMessage string) error

	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// ConversationRepository persists conversations. All reads exclude soft
// deleted rows.
type ConversationRepository interface {
	Create(ctx context.Context, conversation *models.Conversation) error
	// GetByIDAndUser returns the conversation only when it belongs to the
	// user; foreign and missing conversations both report NotFound.
	GetByIDAndUser(ctx context.Context, id, userID uuid.UUID) (*models.Conversation, error)
	ListByNotebook(ctx context.Context, notebookID, userID uuid.UUID) ([]models.Conversation, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) (*models.Conversation, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// MessageRepository persists conversation messages.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	// CreateTurn inserts the user message and the assistant reply in one
	// transaction so a conversation never ends on a dangling user turn.
	CreateTurn(ctx context.Context, userMsg, assistantMsg *models.Message) error
	// ListRecent returns the newest messages in chronological order.
	ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error)
}

// QuizRepository persists generated quizzes.
type QuizRepository interface {
	Create(ctx context.Context, quiz *models.Quiz) error
	ListByNotebook(ctx context.Context, notebookID, userID uuid.UUID) ([]models.Quiz, error)
	Get(ctx context.Context, id, userID uuid.UUID) (*models.Quiz, error)
}

// StudyGuideRepository persists generated study guides.
type StudyGuideRepository interface {
	Create(ctx context.Context, guide *models.StudyGuide) error
	// NextVersion returns 1 + the highest version stored for the topic in
	// the notebook.
	NextVersion(ctx context.Context, notebookID uuid.UUID, topic string) (int, error)
	ListByNotebook(ctx context.Context, notebookID, userID uuid.UUID) ([]models.StudyGuide, error)
	Get(ctx context.Context, id, userID uuid.UUID) (*models.StudyGuide, error)
}

// UserRepository persists user accounts. Reads return nil without error when
// no row matches: a missing account is a normal outcome in the auth flows,
// not an exception.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	MarkVerified(ctx context.Context, id uuid.UUID) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hashedPassword string) error
}

// OTPRepository persists one-time codes. FindActive only considers unspent
// codes; expiry is checked by the caller so wrong and expired codes can be
// reported differently.
type OTPRepository interface {
	Create(ctx context.Context, otp *models.OTPCode) error
	FindActive(ctx context.Context, userID uuid.UUID, code string, purpose models.OTPPurpose) (*models.OTPCode, error)
	// MarkUsed spends the code. Under concurrent redemption attempts exactly
	// one caller succeeds.
	MarkUsed(ctx context.Context, id uuid.UUID) error
	// Invalidate spends every outstanding code for the purpose so only the
	// most recently issued one can be redeemed.
	Invalidate(ctx context.Context, userID uuid.UUID, purpose models.OTPPurpose) error
}

// RefreshTokenRepository tracks issued refresh grants by jti. GetByJTI
// returns nil without error when the grant is unknown.
type RefreshTokenRepository interface {
	Create(ctx context.Context, grant *models.RefreshToken) error
	GetByJTI(ctx context.Context, jti string) (*models.RefreshToken, error)
	// Rotate revokes the old grant and stores its replacement in one
	// transaction. A grant that was already spent rotates to TokenInvalid.
	Rotate(ctx context.Context, oldJTI string, next *models.RefreshToken) error
	Revoke(ctx context.Context, jti string) error
	// RevokeAllForUser ends every live session and reports how many it ended.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}
