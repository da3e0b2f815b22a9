package impl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
)

// fakeLLM satisfies services.LLMClient with overridable behavior per method.
type fakeLLM struct {
	mu         sync.Mutex
	chatCalls  []fakeChatCall
	embedCalls [][]string

	chatFn  func(messages []services.ChatMessage, systemPrompt string) (string, error)
	embedFn func(texts []string) ([][]float32, error)
	quizFn  func(content string, numQuestions int, difficulty string) ([]services.QuizQuestion, error)
}

type fakeChatCall struct {
	messages     []services.ChatMessage
	systemPrompt string
	temperature  float64
	maxTokens    int
}

func (f *fakeLLM) GenerateChat(_ context.Context, messages []services.ChatMessage, systemPrompt string, temperature float64, maxTokens int) (string, error) {
	f.mu.Lock()
	f.chatCalls = append(f.chatCalls, fakeChatCall{messages, systemPrompt, temperature, maxTokens})
	f.mu.Unlock()
	if f.chatFn != nil {
		return f.chatFn(messages, systemPrompt)
	}
	return "fake reply", nil
}

func (f *fakeLLM) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.embedCalls = append(f.embedCalls, texts)
	f.mu.Unlock()
	if f.embedFn != nil {
		return f.embedFn(texts)
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0, 0}
	}
	return vecs, nil
}

func (f *fakeLLM) GenerateQuiz(_ context.Context, content string, numQuestions int, difficulty string) ([]services.QuizQuestion, error) {
	if f.quizFn != nil {
		return f.quizFn(content, numQuestions, difficulty)
	}
	qs := make([]services.QuizQuestion, numQuestions)
	for i := range qs {
		qs[i] = services.QuizQuestion{
			Question:      fmt.Sprintf("q%d", i),
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: "A",
		}
	}
	return qs, nil
}

func (f *fakeLLM) GenerateSummary(_ context.Context, content string, style string, _ int) (string, error) {
	return "summary of " + truncateContent(content, 40), nil
}

func (f *fakeLLM) GenerateStudyGuide(_ context.Context, content string, _ string, _ string) (string, error) {
	return "guide for " + truncateContent(content, 40), nil
}

func (f *fakeLLM) GenerateMindmap(_ context.Context, _ string, _ string) (map[string]any, error) {
	return map[string]any{"root": map[string]any{"id": "root", "label": "t", "children": []any{}}}, nil
}

func (f *fakeLLM) HealthCheck(_ context.Context) error { return nil }

func (f *fakeLLM) lastChatCall() fakeChatCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatCalls[len(f.chatCalls)-1]
}

// fakeChunkRepo keeps chunks in memory and returns canned search hits.
type fakeChunkRepo struct {
	mu          sync.Mutex
	created     []models.Chunk
	searchHits  []models.Chunk
	searchErr   error
	createErr   error
	searchCalls int
}

func (f *fakeChunkRepo) BulkCreate(_ context.Context, chunks []models.Chunk) ([]models.Chunk, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range chunks {
		if chunks[i].ID == uuid.Nil {
			chunks[i].ID = uuid.New()
		}
	}
	f.created = append(f.created, chunks...)
	return chunks, nil
}

func (f *fakeChunkRepo) SearchByEmbedding(_ context.Context, _ []float32, _ uuid.UUID, _ *uuid.UUID, topK int, _ float64) ([]models.Chunk, error) {
	f.mu.Lock()
	f.searchCalls++
	f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.searchHits) > topK {
		return f.searchHits[:topK], nil
	}
	return f.searchHits, nil
}

func (f *fakeChunkRepo) SearchByText(ctx context.Context, _ string, notebookID uuid.UUID, sourceID *uuid.UUID, topK int) ([]models.Chunk, error) {
	return f.SearchByEmbedding(ctx, nil, notebookID, sourceID, topK, 0)
}

func (f *fakeChunkRepo) ListBySource(_ context.Context, sourceID uuid.UUID) ([]models.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Chunk
	for _, c := range f.created {
		if c.SourceID == sourceID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunkRepo) ListByNotebook(_ context.Context, notebookID uuid.UUID) ([]models.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Chunk
	for _, c := range f.created {
		if c.NotebookID == notebookID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunkRepo) DeleteBySource(_ context.Context, sourceID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.created[:0]
	for _, c := range f.created {
		if c.SourceID != sourceID {
			kept = append(kept, c)
		}
	}
	f.created = kept
	return nil
}

// fakeSourceRepo is a map-backed SourceRepository that records status
// transitions. Ownership is enforced only for sources registered via
// setOwner.
type fakeSourceRepo struct {
	mu          sync.Mutex
	sources     map[uuid.UUID]*models.Source
	owners      map[uuid.UUID]uuid.UUID
	transitions []models.SourceStatus
	lastError   string
}

func newFakeSourceRepo() *fakeSourceRepo {
	return &fakeSourceRepo{
		sources: make(map[uuid.UUID]*models.Source),
		owners:  make(map[uuid.UUID]uuid.UUID),
	}
}

func (f *fakeSourceRepo) setOwner(sourceID, userID uuid.UUID) {
	f.mu.Lock()
	f.owners[sourceID] = userID
	f.mu.Unlock()
}

func (f *fakeSourceRepo) put(source *models.Source) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	f.sources[source.ID] = source
}

func (f *fakeSourceRepo) Create(_ context.Context, source *models.Source) error {
	f.put(source)
	return nil
}

func (f *fakeSourceRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	source, ok := f.sources[id]
	if !ok {
		return nil, apperrors.NewNotFound("Source", id.String())
	}
	copied := *source
	return &copied, nil
}

func (f *fakeSourceRepo) GetOwned(ctx context.Context, id, userID uuid.UUID) (*models.Source, error) {
	f.mu.Lock()
	owner, tracked := f.owners[id]
	f.mu.Unlock()
	if tracked && owner != userID {
		return nil, apperrors.NewNotFound("Source", id.String())
	}
	return f.GetByID(ctx, id)
}

func (f *fakeSourceRepo) ListByNotebook(_ context.Context, notebookID uuid.UUID) ([]models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Source
	for _, s := range f.sources {
		if s.NotebookID == notebookID && s.DeletedAt == nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSourceRepo) UpdateStatus(_ context.Context, id uuid.UUID, status models.SourceStatus, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	source, ok := f.sources[id]
	if !ok {
		return apperrors.NewNotFound("Source", id.String())
	}
	source.Status = status
	f.transitions = append(f.transitions, status)
	if errorMessage != "" {
		f.lastError = errorMessage
		meta := models.MetadataMap(source.Metadata)
		meta["error"] = errorMessage
		if data, err := models.ConvertToJSON(meta); err == nil {
			source.Metadata = data
		}
	}
	return nil
}

func (f *fakeSourceRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	source, ok := f.sources[id]
	if !ok {
		return apperrors.NewNotFound("Source", id.String())
	}
	now := time.Now()
	source.DeletedAt = &now
	return nil
}

func (f *fakeSourceRepo) status(id uuid.UUID) models.SourceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[id].Status
}

// fakeConversationRepo is a map-backed ConversationRepository.
type fakeConversationRepo struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*models.Conversation
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{conversations: make(map[uuid.UUID]*models.Conversation)}
}

func (f *fakeConversationRepo) Create(_ context.Context, conversation *models.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conversation.ID == uuid.Nil {
		conversation.ID = uuid.New()
	}
	f.conversations[conversation.ID] = conversation
	return nil
}

func (f *fakeConversationRepo) GetByIDAndUser(_ context.Context, id, userID uuid.UUID) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conversation, ok := f.conversations[id]
	if !ok || conversation.UserID != userID || conversation.DeletedAt != nil {
		return nil, apperrors.NewNotFound("Conversation", id.String())
	}
	copied := *conversation
	return &copied, nil
}

func (f *fakeConversationRepo) ListByNotebook(_ context.Context, notebookID, userID uuid.UUID) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Conversation
	for _, c := range f.conversations {
		if c.NotebookID == notebookID && c.UserID == userID && c.DeletedAt == nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeConversationRepo) Update(_ context.Context, id uuid.UUID, updates map[string]any) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conversation, ok := f.conversations[id]
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

func (f *fakeConversationRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conversation, ok := f.conversations[id]
	if !ok {
		return apperrors.NewNotFound("Conversation", id.String())
	}
	now := time.Now()
	conversation.DeletedAt = &now
	return nil
}

// fakeMessageRepo records messages and turn writes.
type fakeMessageRepo struct {
	mu       sync.Mutex
	messages []models.Message
	turns    int
}

func (f *fakeMessageRepo) Create(_ context.Context, message *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	f.messages = append(f.messages, *message)
	return nil
}

func (f *fakeMessageRepo) CreateTurn(_ context.Context, userMsg, assistantMsg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if userMsg.ID == uuid.Nil {
		userMsg.ID = uuid.New()
	}
	if assistantMsg.ID == uuid.Nil {
		assistantMsg.ID = uuid.New()
	}
	f.messages = append(f.messages, *userMsg, *assistantMsg)
	f.turns++
	return nil
}

func (f *fakeMessageRepo) ListRecent(_ context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// fakeDispatcher runs tasks inline so tests observe their effects
// synchronously.
type fakeDispatcher struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeDispatcher) Dispatch(name string, _ time.Duration, fn func(ctx context.Context)) {
	f.mu.Lock()
	f.names = append(f.names, name)
	f.mu.Unlock()
	fn(context.Background())
}

func (f *fakeDispatcher) Shutdown(time.Duration) {}

// fakeNotebookService grants ownership of registered notebook/user pairs and
// reports everything else as not found.
type fakeNotebookService struct {
	mu            sync.Mutex
	owners        map[uuid.UUID]uuid.UUID
	contextTokens int
}

func newFakeNotebookService() *fakeNotebookService {
	return &fakeNotebookService{owners: make(map[uuid.UUID]uuid.UUID)}
}

func (f *fakeNotebookService) grant(notebookID, userID uuid.UUID) {
	f.mu.Lock()
	f.owners[notebookID] = userID
	f.mu.Unlock()
}

func (f *fakeNotebookService) Get(_ context.Context, id, userID uuid.UUID) (*models.Notebook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, ok := f.owners[id]
	if !ok || owner != userID {
		return nil, apperrors.NewNotFound("Notebook", id.String())
	}
	budget := f.contextTokens
	if budget == 0 {
		budget = 4000
	}
	return &models.Notebook{ID: id, OwnerID: owner, Title: "fixture", MaxContextTokens: budget}, nil
}

func (f *fakeNotebookService) Create(_ context.Context, userID uuid.UUID, req models.CreateNotebookRequest) (*models.Notebook, error) {
	notebook := &models.Notebook{ID: uuid.New(), OwnerID: userID, Title: req.Title}
	f.grant(notebook.ID, userID)
	return notebook, nil
}

func (f *fakeNotebookService) List(_ context.Context, _ uuid.UUID, skip, limit int) (*models.NotebookListResponse, error) {
	return &models.NotebookListResponse{Notebooks: []models.Notebook{}, Skip: skip, Limit: limit}, nil
}

func (f *fakeNotebookService) Update(ctx context.Context, id, userID uuid.UUID, _ models.UpdateNotebookRequest) (*models.Notebook, error) {
	return f.Get(ctx, id, userID)
}

func (f *fakeNotebookService) Delete(_ context.Context, _, _ uuid.UUID) error { return nil }

func (f *fakeNotebookService) Restore(ctx context.Context, id, userID uuid.UUID) (*models.Notebook, error) {
	return f.Get(ctx, id, userID)
}

// fakeQuizRepo stores quizzes in memory.
type fakeQuizRepo struct {
	mu      sync.Mutex
	quizzes []models.Quiz
}

func (f *fakeQuizRepo) Create(_ context.Context, quiz *models.Quiz) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if quiz.ID == uuid.Nil {
		quiz.ID = uuid.New()
	}
	f.quizzes = append(f.quizzes, *quiz)
	return nil
}

func (f *fakeQuizRepo) ListByNotebook(_ context.Context, notebookID, userID uuid.UUID) ([]models.Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Quiz
	for _, q := range f.quizzes {
		if q.NotebookID == notebookID && q.UserID == userID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeQuizRepo) Get(_ context.Context, id, userID uuid.UUID) (*models.Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.quizzes {
		if q.ID == id && q.UserID == userID {
			copied := q
			return &copied, nil
		}
	}
	return nil, apperrors.NewNotFound("Quiz", id.String())
}

// fakeStudyGuideRepo stores guides and derives versions the way the real
// repository does.
type fakeStudyGuideRepo struct {
	mu     sync.Mutex
	guides []models.StudyGuide
}

func (f *fakeStudyGuideRepo) Create(_ context.Context, guide *models.StudyGuide) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if guide.ID == uuid.Nil {
		guide.ID = uuid.New()
	}
	f.guides = append(f.guides, *guide)
	return nil
}

func (f *fakeStudyGuideRepo) NextVersion(_ context.Context, notebookID uuid.UUID, topic string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	maxVersion := 0
	for _, g := range f.guides {
		if g.NotebookID == notebookID && g.Topic == topic && g.Version > maxVersion {
			maxVersion = g.Version
		}
	}
	return maxVersion + 1, nil
}

func (f *fakeStudyGuideRepo) ListByNotebook(_ context.Context, notebookID, userID uuid.UUID) ([]models.StudyGuide, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.StudyGuide
	for _, g := range f.guides {
		if g.NotebookID == notebookID && g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeStudyGuideRepo) Get(_ context.Context, id, userID uuid.UUID) (*models.StudyGuide, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.guides {
		if g.ID == id && g.UserID == userID {
			copied := g
			return &copied, nil
		}
	}
	return nil, apperrors.NewNotFound("StudyGuide", id.String())
}

// fakeHistoryService records entries, filling previews like the real one.
type fakeHistoryService struct {
	mu      sync.Mutex
	entries []models.GenerationHistory
}

func (f *fakeHistoryService) Record(_ context.Context, entry *models.GenerationHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ContentPreview == "" && entry.Content != "" {
		entry.ContentPreview = previewOf(entry.Content, 200)
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeHistoryService) List(_ context.Context, userID uuid.UUID, genType *models.GenerationType, _, _ int) ([]models.GenerationHistory, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.GenerationHistory
	for _, e := range f.entries {
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

func (f *fakeHistoryService) Get(_ context.Context, id, userID uuid.UUID) (*models.GenerationHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == id && e.UserID == userID {
			copied := e
			return &copied, nil
		}
	}
	return nil, apperrors.NewNotFound("GenerationHistory", id.String())
}

func (f *fakeHistoryService) Delete(_ context.Context, id, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.entries {
		if e.ID == id && e.UserID == userID {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return apperrors.NewNotFound("GenerationHistory", id.String())
}

func (f *fakeHistoryService) DeleteExpired(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeHistoryService) last() models.GenerationHistory {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[len(f.entries)-1]
}

// fakeUserRepo keeps user rows in a map keyed by id.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uuid.UUID]*models.User{}}
}

func (f *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	for _, u := range f.users {
		if u.Email == user.Email && u.DeletedAt == nil {
			return fmt.Errorf("duplicate email %s", user.Email)
		}
	}
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email && u.DeletedAt == nil {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) MarkVerified(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperrors.NewNotFound("User", id.String())
	}
	u.IsVerified = true
	return nil
}

func (f *fakeUserRepo) UpdatePassword(_ context.Context, id uuid.UUID, hashedPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperrors.NewNotFound("User", id.String())
	}
	u.HashedPassword = hashedPassword
	return nil
}

// setActive flips the account flag directly, bypassing the service.
func (f *fakeUserRepo) setActive(id uuid.UUID, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.IsActive = active
	}
}

type fakeOTPRepo struct {
	mu    sync.Mutex
	codes []*models.OTPCode
}

func newFakeOTPRepo() *fakeOTPRepo {
	return &fakeOTPRepo{}
}

func (f *fakeOTPRepo) Create(_ context.Context, otp *models.OTPCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if otp.ID == uuid.Nil {
		otp.ID = uuid.New()
	}
	copied := *otp
	f.codes = append(f.codes, &copied)
	return nil
}

func (f *fakeOTPRepo) FindActive(_ context.Context, userID uuid.UUID, code string, purpose models.OTPPurpose) (*models.OTPCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.codes) - 1; i >= 0; i-- {
		c := f.codes[i]
		if c.UserID == userID && c.Code == code && c.Purpose == purpose && c.UsedAt == nil {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeOTPRepo) MarkUsed(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.ID == id {
			if c.UsedAt != nil {
				return apperrors.NewValidation("Invalid OTP code")
			}
			now := time.Now().UTC()
			c.UsedAt = &now
			return nil
		}
	}
	return apperrors.NewValidation("Invalid OTP code")
}

func (f *fakeOTPRepo) Invalidate(_ context.Context, userID uuid.UUID, purpose models.OTPPurpose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	for _, c := range f.codes {
		if c.UserID == userID && c.Purpose == purpose && c.UsedAt == nil {
			used := now
			c.UsedAt = &used
		}
	}
	return nil
}

// lastIssued returns the newest code for the user and purpose, spent or not.
func (f *fakeOTPRepo) lastIssued(userID uuid.UUID, purpose models.OTPPurpose) *models.OTPCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.codes) - 1; i >= 0; i-- {
		c := f.codes[i]
		if c.UserID == userID && c.Purpose == purpose {
			copied := *c
			return &copied
		}
	}
	return nil
}

// expire backdates a stored code so expiry paths can be exercised.
func (f *fakeOTPRepo) expire(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.ID == id {
			c.ExpiresAt = time.Now().UTC().Add(-time.Minute)
		}
	}
}

func (f *fakeOTPRepo) activeCount(userID uuid.UUID, purpose models.OTPPurpose) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.codes {
		if c.UserID == userID && c.Purpose == purpose && c.UsedAt == nil {
			n++
		}
	}
	return n
}

type fakeRefreshTokenRepo struct {
	mu     sync.Mutex
	grants map[string]*models.RefreshToken
}

func newFakeRefreshTokenRepo() *fakeRefreshTokenRepo {
	return &fakeRefreshTokenRepo{grants: map[string]*models.RefreshToken{}}
}

func (f *fakeRefreshTokenRepo) Create(_ context.Context, grant *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	copied := *grant
	f.grants[grant.JTI] = &copied
	return nil
}

func (f *fakeRefreshTokenRepo) GetByJTI(_ context.Context, jti string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[jti]
	if !ok {
		return nil, nil
	}
	copied := *g
	return &copied, nil
}

func (f *fakeRefreshTokenRepo) Rotate(_ context.Context, oldJTI string, next *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.grants[oldJTI]
	if !ok || old.RevokedAt != nil {
		return apperrors.NewTokenInvalid()
	}
	now := time.Now().UTC()
	old.RevokedAt = &now
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}
	copied := *next
	f.grants[next.JTI] = &copied
	return nil
}

func (f *fakeRefreshTokenRepo) Revoke(_ context.Context, jti string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.grants[jti]; ok && g.RevokedAt == nil {
		now := time.Now().UTC()
		g.RevokedAt = &now
	}
	return nil
}

func (f *fakeRefreshTokenRepo) RevokeAllForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, g := range f.grants {
		if g.UserID == userID && g.RevokedAt == nil {
			used := now
			g.RevokedAt = &used
			n++
		}
	}
	return n, nil
}

func (f *fakeRefreshTokenRepo) liveCount(userID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, g := range f.grants {
		if g.UserID == userID && g.RevokedAt == nil {
			n++
		}
	}
	return n
}

// drop forgets a grant entirely, as if the row were purged.
func (f *fakeRefreshTokenRepo) drop(jti string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.grants, jti)
}

// fakeEmailProvider records deliveries and can be told to fail.
type fakeEmailProvider struct {
	mu   sync.Mutex
	sent []SentEmail
	err  error
}

func (f *fakeEmailProvider) Send(_ context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.sent = append(f.sent, SentEmail{To: to, Subject: subject, Body: body})
	f.mu.Unlock()
	return nil
}

func (f *fakeEmailProvider) all() []SentEmail {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentEmail, len(f.sent))
	copy(out, f.sent)
	return out
}
