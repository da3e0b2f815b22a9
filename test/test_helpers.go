package test

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/auth"
	"github.com/mindspring-backend/handlers"
	"github.com/mindspring-backend/middleware"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
	"github.com/mindspring-backend/services/impl"
)

// inlineDispatcher runs background tasks synchronously so tests observe the
// settled state as soon as the service call returns.
type inlineDispatcher struct{}

func (inlineDispatcher) Dispatch(_ string, _ time.Duration, fn func(ctx context.Context)) {
	fn(context.Background())
}

func (inlineDispatcher) Shutdown(time.Duration) {}

// captureEmail records deliveries instead of sending them.
type captureEmail struct {
	mu   sync.Mutex
	sent []capturedMail
}

type capturedMail struct {
	To      string
	Subject string
	Body    string
}

func (p *captureEmail) Send(_ context.Context, to, subject, body string) error {
	p.mu.Lock()
	p.sent = append(p.sent, capturedMail{To: to, Subject: subject, Body: body})
	p.mu.Unlock()
	return nil
}

var otpPattern = regexp.MustCompile(`\b(\d{6})\b`)

// lastOTP extracts the most recent six-digit code mailed to the address.
func (p *captureEmail) lastOTP(to string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.sent) - 1; i >= 0; i-- {
		if p.sent[i].To != to {
			continue
		}
		if m := otpPattern.FindStringSubmatch(p.sent[i].Body); m != nil {
			return m[1]
		}
	}
	return ""
}

// memNotebooks is an in-memory NotebookService. Ownership scoping matches
// the production service: foreign notebooks read as not found.
type memNotebooks struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*models.Notebook
	order []uuid.UUID
}

func newMemNotebooks() *memNotebooks {
	return &memNotebooks{rows: make(map[uuid.UUID]*models.Notebook)}
}

func (m *memNotebooks) Create(_ context.Context, userID uuid.UUID, req models.CreateNotebookRequest) (*models.Notebook, error) {
	language := req.Language
	if language == "" {
		language = "en"
	}
	now := time.Now().UTC()
	notebook := &models.Notebook{
		ID:               uuid.New(),
		OwnerID:          userID,
		Title:            req.Title,
		Description:      req.Description,
		Language:         language,
		Tone:             req.Tone,
		MaxContextTokens: 4000,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.mu.Lock()
	m.rows[notebook.ID] = notebook
	m.order = append(m.order, notebook.ID)
	m.mu.Unlock()
	copied := *notebook
	return &copied, nil
}

func (m *memNotebooks) Get(_ context.Context, id, userID uuid.UUID) (*models.Notebook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	notebook, ok := m.rows[id]
	if !ok || notebook.OwnerID != userID || notebook.DeletedAt != nil {
		return nil, apperrors.NewNotFound("Notebook", id.String())
	}
	copied := *notebook
	return &copied, nil
}

func (m *memNotebooks) List(_ context.Context, userID uuid.UUID, skip, limit int) (*models.NotebookListResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mine []models.Notebook
	for _, id := range m.order {
		nb := m.rows[id]
		if nb.OwnerID == userID && nb.DeletedAt == nil {
			mine = append(mine, *nb)
		}
	}
	total := int64(len(mine))
	if skip > len(mine) {
		skip = len(mine)
	}
	mine = mine[skip:]
	if limit > 0 && len(mine) > limit {
		mine = mine[:limit]
	}
	if mine == nil {
		mine = []models.Notebook{}
	}
	return &models.NotebookListResponse{Notebooks: mine, Total: total, Skip: skip, Limit: limit}, nil
}

func (m *memNotebooks) Update(ctx context.Context, id, userID uuid.UUID, req models.UpdateNotebookRequest) (*models.Notebook, error) {
	m.mu.Lock()
	notebook, ok := m.rows[id]
	if !ok || notebook.OwnerID != userID || notebook.DeletedAt != nil {
		m.mu.Unlock()
		return nil, apperrors.NewNotFound("Notebook", id.String())
	}
	if req.Title != nil {
		notebook.Title = *req.Title
	}
	if req.Description != nil {
		notebook.Description = *req.Description
	}
	if req.Language != nil {
		notebook.Language = *req.Language
	}
	if req.Tone != nil {
		notebook.Tone = req.Tone
	}
	if req.MaxContextTokens != nil {
		notebook.MaxContextTokens = *req.MaxContextTokens
	}
	notebook.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()
	return m.Get(ctx, id, userID)
}

func (m *memNotebooks) Delete(_ context.Context, id, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	notebook, ok := m.rows[id]
	if !ok || notebook.OwnerID != userID || notebook.DeletedAt != nil {
		return apperrors.NewNotFound("Notebook", id.String())
	}
	now := time.Now().UTC()
	notebook.DeletedAt = &now
	return nil
}

func (m *memNotebooks) Restore(ctx context.Context, id, userID uuid.UUID) (*models.Notebook, error) {
	m.mu.Lock()
	notebook, ok := m.rows[id]
	if !ok || notebook.OwnerID != userID {
		m.mu.Unlock()
		return nil, apperrors.NewNotFound("Notebook", id.String())
	}
	notebook.DeletedAt = nil
	m.mu.Unlock()
	return m.Get(ctx, id, userID)
}

// memSources is an in-memory SourceRepository. GetOwned resolves ownership
// through the notebook, like the SQL join in the real repository.
type memSources struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*models.Source
	notebooks *memNotebooks
}

func newMemSources(notebooks *memNotebooks) *memSources {
	return &memSources{rows: make(map[uuid.UUID]*models.Source), notebooks: notebooks}
}

func (m *memSources) Create(_ context.Context, source *models.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	copied := *source
	m.rows[source.ID] = &copied
	return nil
}

func (m *memSources) GetByID(_ context.Context, id uuid.UUID) (*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	source, ok := m.rows[id]
	if !ok || source.DeletedAt != nil {
		return nil, apperrors.NewNotFound("Source", id.String())
	}
	copied := *source
	return &copied, nil
}

func (m *memSources) GetOwned(ctx context.Context, id, userID uuid.UUID) (*models.Source, error) {
	source, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := m.notebooks.Get(ctx, source.NotebookID, userID); err != nil {
		return nil, apperrors.NewNotFound("Source", id.String())
	}
	return source, nil
}

func (m *memSources) ListByNotebook(_ context.Context, notebookID uuid.UUID) ([]models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Source
	for _, s := range m.rows {
		if s.NotebookID == notebookID && s.DeletedAt == nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSources) UpdateStatus(_ context.Context, id uuid.UUID, status models.SourceStatus, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	source, ok := m.rows[id]
	if !ok {
		return apperrors.NewNotFound("Source", id.String())
	}
	source.Status = status
	if errorMessage != "" {
		meta := models.MetadataMap(source.Metadata)
		meta["error"] = errorMessage
		if data, err := models.ConvertToJSON(meta); err == nil {
			source.Metadata = data
		}
	}
	return nil
}

func (m *memSources) SoftDelete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	source, ok := m.rows[id]
	if !ok {
		return apperrors.NewNotFound("Source", id.String())
	}
	now := time.Now().UTC()
	source.DeletedAt = &now
	return nil
}

// memChunks stores embedded chunks and answers text queries by word overlap,
// standing in for semantic similarity without a vector index.
type memChunks struct {
	mu   sync.Mutex
	rows []models.Chunk
}

func newMemChunks() *memChunks {
	return &memChunks{}
}

func (m *memChunks) BulkCreate(_ context.Context, chunks []models.Chunk) ([]models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range chunks {
		if chunks[i].ID == uuid.Nil {
			chunks[i].ID = uuid.New()
		}
	}
	m.rows = append(m.rows, chunks...)
	return chunks, nil
}

type scoredChunk struct {
	chunk models.Chunk
	score float64
}

func (m *memChunks) SearchByEmbedding(_ context.Context, queryEmbedding []float32, notebookID uuid.UUID, sourceID *uuid.UUID, topK int, threshold float64) ([]models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []scoredChunk
	for _, c := range m.rows {
		if c.NotebookID != notebookID {
			continue
		}
		if sourceID != nil && c.SourceID != *sourceID {
			continue
		}
		score := cosine(queryEmbedding, c.EmbeddingVector.Slice())
		if score < threshold {
			continue
		}
		hits = append(hits, scoredChunk{chunk: c, score: score})
	}
	return rankAndTrim(hits, topK), nil
}

func (m *memChunks) SearchByText(_ context.Context, queryText string, notebookID uuid.UUID, sourceID *uuid.UUID, topK int) ([]models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queryWords := wordSet(queryText)
	var hits []scoredChunk
	for _, c := range m.rows {
		if c.NotebookID != notebookID {
			continue
		}
		if sourceID != nil && c.SourceID != *sourceID {
			continue
		}
		words := wordSet(c.PlainText)
		overlap := 0
		for w := range queryWords {
			if words[w] {
				overlap++
			}
		}
		if overlap == 0 || len(queryWords) == 0 {
			continue
		}
		hits = append(hits, scoredChunk{chunk: c, score: float64(overlap) / float64(len(queryWords))})
	}
	return rankAndTrim(hits, topK), nil
}

// rankAndTrim orders hits best first, keeps topK and writes each score into
// the chunk's metadata the way the pgvector repository does.
func rankAndTrim(hits []scoredChunk, topK int) []models.Chunk {
	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	out := make([]models.Chunk, 0, topK)
	for _, h := range hits {
		if len(out) >= topK {
			break
		}
		chunk := h.chunk
		meta := models.MetadataMap(chunk.Metadata)
		meta["similarity_score"] = h.score
		if data, err := models.ConvertToJSON(meta); err == nil {
			chunk.Metadata = data
		}
		out = append(out, chunk)
	}
	return out
}

func (m *memChunks) ListBySource(_ context.Context, sourceID uuid.UUID) ([]models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Chunk
	for _, c := range m.rows {
		if c.SourceID == sourceID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (m *memChunks) ListByNotebook(_ context.Context, notebookID uuid.UUID) ([]models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Chunk
	for _, c := range m.rows {
		if c.NotebookID == notebookID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memChunks) DeleteBySource(_ context.Context, sourceID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	for _, c := range m.rows {
		if c.SourceID != sourceID {
			kept = append(kept, c)
		}
	}
	m.rows = kept
	return nil
}

func wordSet(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, `.,;:!?()[]"'`)
		if len(w) >= 4 {
			words[w] = true
		}
	}
	return words
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// memConversations is an in-memory ConversationRepository.
type memConversations struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.Conversation
}

func newMemConversations() *memConversations {
	return &memConversations{rows: make(map[uuid.UUID]*models.Conversation)}
}

func (m *memConversations) Create(_ context.Context, conversation *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conversation.ID == uuid.Nil {
		conversation.ID = uuid.New()
	}
	copied := *conversation
	m.rows[conversation.ID] = &copied
	return nil
}

func (m *memConversations) GetByIDAndUser(_ context.Context, id, userID uuid.UUID) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.rows[id]
	if !ok || conversation.UserID != userID || conversation.DeletedAt != nil {
		return nil, apperrors.NewNotFound("Conversation", id.String())
	}
	copied := *conversation
	return &copied, nil
}

func (m *memConversations) ListByNotebook(_ context.Context, notebookID, userID uuid.UUID) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Conversation
	for _, c := range m.rows {
		if c.NotebookID == notebookID && c.UserID == userID && c.DeletedAt == nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memConversations) Update(_ context.Context, id uuid.UUID, updates map[string]any) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.rows[id]
	if !ok {
		return nil, apperrors.NewNotFound("Conversation", id.String())
	}
	if title, ok := updates["title"].(string); ok {
		conversation.Title = title
	}
	if mode, ok := updates["mode"].(models.ConversationMode); ok {
		conversation.Mode = mode
	}
	copied := *conversation
	return &copied, nil
}

func (m *memConversations) SoftDelete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.rows[id]
	if !ok {
		return apperrors.NewNotFound("Conversation", id.String())
	}
	now := time.Now().UTC()
	conversation.DeletedAt = &now
	return nil
}

// memMessages is an in-memory MessageRepository preserving insertion order.
type memMessages struct {
	mu   sync.Mutex
	rows []models.Message
}

func newMemMessages() *memMessages {
	return &memMessages{}
}

func (m *memMessages) Create(_ context.Context, message *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	m.rows = append(m.rows, *message)
	return nil
}

func (m *memMessages) CreateTurn(ctx context.Context, userMsg, assistantMsg *models.Message) error {
	if err := m.Create(ctx, userMsg); err != nil {
		return err
	}
	return m.Create(ctx, assistantMsg)
}

func (m *memMessages) ListRecent(_ context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, msg := range m.rows {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// memQuizzes is an in-memory QuizRepository.
type memQuizzes struct {
	mu   sync.Mutex
	rows []models.Quiz
}

func newMemQuizzes() *memQuizzes { return &memQuizzes{} }

func (m *memQuizzes) Create(_ context.Context, quiz *models.Quiz) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if quiz.ID == uuid.Nil {
		quiz.ID = uuid.New()
	}
	m.rows = append(m.rows, *quiz)
	return nil
}

func (m *memQuizzes) ListByNotebook(_ context.Context, notebookID, userID uuid.UUID) ([]models.Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Quiz
	for _, q := range m.rows {
		if q.NotebookID == notebookID && q.UserID == userID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *memQuizzes) Get(_ context.Context, id, userID uuid.UUID) (*models.Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.rows {
		if q.ID == id && q.UserID == userID {
			copied := q
			return &copied, nil
		}
	}
	return nil, apperrors.NewNotFound("Quiz", id.String())
}

// memGuides is an in-memory StudyGuideRepository.
type memGuides struct {
	mu   sync.Mutex
	rows []models.StudyGuide
}

func newMemGuides() *memGuides { return &memGuides{} }

func (m *memGuides) Create(_ context.Context, guide *models.StudyGuide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if guide.ID == uuid.Nil {
		guide.ID = uuid.New()
	}
	m.rows = append(m.rows, *guide)
	return nil
}

func (m *memGuides) NextVersion(_ context.Context, notebookID uuid.UUID, topic string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	maxVersion := 0
	for _, g := range m.rows {
		if g.NotebookID == notebookID && g.Topic == topic && g.Version > maxVersion {
			maxVersion = g.Version
		}
	}
	return maxVersion + 1, nil
}

func (m *memGuides) ListByNotebook(_ context.Context, notebookID, userID uuid.UUID) ([]models.StudyGuide, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StudyGuide
	for _, g := range m.rows {
		if g.NotebookID == notebookID && g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memGuides) Get(_ context.Context, id, userID uuid.UUID) (*models.StudyGuide, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.rows {
		if g.ID == id && g.UserID == userID {
			copied := g
			return &copied, nil
		}
	}
	return nil, apperrors.NewNotFound("StudyGuide", id.String())
}

// memHistory is an in-memory HistoryService.
type memHistory struct {
	mu   sync.Mutex
	rows []models.GenerationHistory
}

func newMemHistory() *memHistory { return &memHistory{} }

func (m *memHistory) Record(_ context.Context, entry *models.GenerationHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	m.rows = append(m.rows, *entry)
	return nil
}

func (m *memHistory) List(_ context.Context, userID uuid.UUID, genType *models.GenerationType, skip, limit int) ([]models.GenerationHistory, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GenerationHistory
	for _, e := range m.rows {
		if e.UserID != userID {
			continue
		}
		if genType != nil && e.Type != *genType {
			continue
		}
		out = append(out, e)
	}
	return out, int64(len(out)), nil
}

func (m *memHistory) Get(_ context.Context, id, userID uuid.UUID) (*models.GenerationHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.rows {
		if e.ID == id && e.UserID == userID {
			copied := e
			return &copied, nil
		}
	}
	return nil, apperrors.NewNotFound("GenerationHistory", id.String())
}

func (m *memHistory) Delete(_ context.Context, id, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.rows {
		if e.ID == id && e.UserID == userID {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return nil
		}
	}
	return apperrors.NewNotFound("GenerationHistory", id.String())
}

func (m *memHistory) DeleteExpired(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

// memUsers is an in-memory UserRepository.
type memUsers struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.User
}

func newMemUsers() *memUsers {
	return &memUsers{rows: make(map[uuid.UUID]*models.User)}
}

func (m *memUsers) Create(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	for _, u := range m.rows {
		if u.Email == user.Email && u.DeletedAt == nil {
			return apperrors.NewConflict("Email already registered")
		}
	}
	copied := *user
	m.rows[user.ID] = &copied
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.rows {
		if u.Email == email && u.DeletedAt == nil {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok || u.DeletedAt != nil {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (m *memUsers) MarkVerified(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return apperrors.NewNotFound("User", id.String())
	}
	u.IsVerified = true
	return nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id uuid.UUID, hashedPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return apperrors.NewNotFound("User", id.String())
	}
	u.HashedPassword = hashedPassword
	return nil
}

// memOTPs is an in-memory OTPRepository.
type memOTPs struct {
	mu   sync.Mutex
	rows []*models.OTPCode
}

func newMemOTPs() *memOTPs { return &memOTPs{} }

func (m *memOTPs) Create(_ context.Context, otp *models.OTPCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if otp.ID == uuid.Nil {
		otp.ID = uuid.New()
	}
	copied := *otp
	m.rows = append(m.rows, &copied)
	return nil
}

func (m *memOTPs) FindActive(_ context.Context, userID uuid.UUID, code string, purpose models.OTPPurpose) (*models.OTPCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		c := m.rows[i]
		if c.UserID == userID && c.Code == code && c.Purpose == purpose && c.UsedAt == nil {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memOTPs) MarkUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.ID == id && c.UsedAt == nil {
			now := time.Now().UTC()
			c.UsedAt = &now
			return nil
		}
	}
	return apperrors.NewValidation("Invalid OTP code")
}

func (m *memOTPs) Invalidate(_ context.Context, userID uuid.UUID, purpose models.OTPPurpose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.UserID == userID && c.Purpose == purpose && c.UsedAt == nil {
			now := time.Now().UTC()
			c.UsedAt = &now
		}
	}
	return nil
}

// memGrants is an in-memory RefreshTokenRepository.
type memGrants struct {
	mu   sync.Mutex
	rows map[string]*models.RefreshToken
}

func newMemGrants() *memGrants {
	return &memGrants{rows: make(map[string]*models.RefreshToken)}
}

func (m *memGrants) Create(_ context.Context, grant *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	copied := *grant
	m.rows[grant.JTI] = &copied
	return nil
}

func (m *memGrants) GetByJTI(_ context.Context, jti string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.rows[jti]
	if !ok {
		return nil, nil
	}
	copied := *g
	return &copied, nil
}

func (m *memGrants) Rotate(_ context.Context, oldJTI string, next *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.rows[oldJTI]
	if !ok || old.RevokedAt != nil {
		return apperrors.NewTokenInvalid()
	}
	now := time.Now().UTC()
	old.RevokedAt = &now
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}
	copied := *next
	m.rows[next.JTI] = &copied
	return nil
}

func (m *memGrants) Revoke(_ context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.rows[jti]; ok && g.RevokedAt == nil {
		now := time.Now().UTC()
		g.RevokedAt = &now
	}
	return nil
}

func (m *memGrants) RevokeAllForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, g := range m.rows {
		if g.UserID == userID && g.RevokedAt == nil {
			revoked := now
			g.RevokedAt = &revoked
			n++
		}
	}
	return n, nil
}

// ragEnv wires the real ingestion, chat and generation services over
// in-memory stores and the deterministic mock LLM.
type ragEnv struct {
	notebooks     *memNotebooks
	sources       *memSources
	chunks        *memChunks
	conversations *memConversations
	messages      *memMessages
	quizzes       *memQuizzes
	guides        *memGuides
	history       *memHistory

	storage    services.StorageProvider
	llm        services.LLMClient
	sourceSvc  services.SourceService
	chatSvc    services.ChatService
	generation services.GenerationService
}

func newRAGEnv(tb testingTB) *ragEnv {
	tb.Helper()

	env := &ragEnv{
		notebooks:     newMemNotebooks(),
		conversations: newMemConversations(),
		messages:      newMemMessages(),
		chunks:        newMemChunks(),
		quizzes:       newMemQuizzes(),
		guides:        newMemGuides(),
		history:       newMemHistory(),
		llm:           impl.NewMockLLMClient(16),
	}
	env.sources = newMemSources(env.notebooks)

	// Objects stored in memory are served over httptest so presigned URLs
	// resolve during extraction.
	fileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/")
		data, err := env.storage.Retrieve(r.Context(), key)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	}))
	tb.Cleanup(fileServer.Close)
	env.storage = impl.NewMemoryStorageProviderWithBase(fileServer.URL)

	ingestSvc := impl.NewRAGIngestService(env.chunks, env.llm, 200, 40)
	processing := impl.NewSourceProcessingService(env.sources, env.storage, ingestSvc)
	env.sourceSvc = impl.NewSourceService(
		env.sources, env.chunks, env.notebooks, env.storage,
		processing, ingestSvc, inlineDispatcher{}, time.Minute)
	env.chatSvc = impl.NewChatService(env.conversations, env.messages, env.notebooks, env.chunks, env.llm)
	env.generation = impl.NewGenerationService(
		env.sources, env.chunks, env.notebooks,
		env.quizzes, env.guides, env.history, env.llm, "mock-llm")
	return env
}

// testingTB is the subset of *testing.T the env builders need.
type testingTB interface {
	Helper()
	Cleanup(func())
}

// apiEnv adds auth and the full HTTP router on top of ragEnv, mirroring the
// route layout the server binary mounts.
type apiEnv struct {
	*ragEnv

	users  *memUsers
	otps   *memOTPs
	grants *memGrants
	email  *captureEmail

	tokens  *auth.TokenManager
	authSvc services.AuthService
	router  *gin.Engine
}

func newAPIEnv(tb testingTB) *apiEnv {
	tb.Helper()
	gin.SetMode(gin.TestMode)

	env := &apiEnv{
		ragEnv: newRAGEnv(tb),
		users:  newMemUsers(),
		otps:   newMemOTPs(),
		grants: newMemGrants(),
		email:  &captureEmail{},
	}
	env.tokens = auth.NewTokenManager("integration-secret", 30*time.Minute, 7*24*time.Hour)
	env.authSvc = impl.NewAuthService(env.users, env.otps, env.grants, env.tokens, env.email, 10*time.Minute)

	authHandlers := handlers.NewAuthHandlers(env.authSvc, false)
	notebookHandlers := handlers.NewNotebookHandlers(env.notebooks)
	sourceHandlers := handlers.NewSourceHandlers(env.sourceSvc, env.chatSvc)
	chatHandlers := handlers.NewChatHandlers(env.chatSvc)
	generationHandlers := handlers.NewGenerationHandlers(env.generation, env.quizzes)

	router := gin.New()
	api := router.Group("/api/v1")
	api.Use(middleware.Timeout(5 * time.Second))

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/signup", authHandlers.Signup)
		authGroup.POST("/verify-otp", authHandlers.VerifyOTP)
		authGroup.POST("/resend-otp", authHandlers.ResendOTP)
		authGroup.POST("/login", authHandlers.Login)
		authGroup.POST("/refresh", authHandlers.Refresh)
		authGroup.POST("/forgot-password", authHandlers.ForgotPassword)
		authGroup.POST("/reset-password", authHandlers.ResetPassword)
	}

	protected := api.Group("")
	protected.Use(middleware.Auth(env.tokens, env.authSvc))
	{
		protected.POST("/auth/logout", authHandlers.Logout)
		protected.GET("/auth/me", authHandlers.Me)

		notebooks := protected.Group("/notebooks")
		{
			notebooks.POST("", notebookHandlers.Create)
			notebooks.GET("", notebookHandlers.List)
			notebooks.GET("/:notebook_id", notebookHandlers.Get)
			notebooks.PUT("/:notebook_id", notebookHandlers.Update)
			notebooks.DELETE("/:notebook_id", notebookHandlers.Delete)
			notebooks.POST("/:notebook_id/restore", notebookHandlers.Restore)
			notebooks.POST("/:notebook_id/sources", sourceHandlers.Upload)
			notebooks.GET("/:notebook_id/sources", sourceHandlers.List)
			notebooks.POST("/:notebook_id/generate/quiz", generationHandlers.QuizFromNotebook)
		}

		sources := protected.Group("/sources")
		{
			sources.GET("/:source_id", sourceHandlers.Get)
			sources.DELETE("/:source_id", sourceHandlers.Delete)
			sources.POST("/:source_id/generate/quiz", generationHandlers.QuizFromSource)
			sources.POST("/:source_id/generate/summary", generationHandlers.SummarizeSource)
		}

		chat := protected.Group("/chat")
		{
			chat.POST("/conversations", chatHandlers.CreateConversation)
			chat.GET("/conversations", chatHandlers.ListConversations)
			chat.GET("/conversations/:conversation_id", chatHandlers.GetConversation)
			chat.POST("/conversations/:conversation_id/messages", chatHandlers.SendMessage)
			chat.GET("/conversations/:conversation_id/messages", chatHandlers.ListMessages)
		}

		protected.GET("/quizzes", generationHandlers.ListQuizzes)
		protected.GET("/quizzes/:quiz_id", generationHandlers.GetQuiz)
	}

	env.router = router
	return env
}
