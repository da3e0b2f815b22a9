package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
)

var allowedQuestionCounts = map[int]bool{10: true, 20: true, 30: true, 40: true, 50: true}

var allowedDifficulties = map[string]bool{
	"novice": true, "intermediate": true, "master": true,
	"easy": true, "medium": true, "hard": true,
}

var allowedMindmapFormats = map[string]bool{"json": true, "mermaid": true, "markdown": true}

// generationService turns processed source content into study artifacts.
// Quizzes and study guides persist as rows; summaries and mindmaps live in
// the generation history only.
type generationService struct {
	sources   services.SourceRepository
	chunks    services.ChunkRepository
	notebooks services.NotebookService
	quizzes   services.QuizRepository
	guides    services.StudyGuideRepository
	history   services.HistoryService
	llm       services.LLMClient
	modelTag  string
}

func NewGenerationService(
	sources services.SourceRepository,
	chunks services.ChunkRepository,
	notebooks services.NotebookService,
	quizzes services.QuizRepository,
	guides services.StudyGuideRepository,
	history services.HistoryService,
	llm services.LLMClient,
	modelTag string,
) services.GenerationService {
	return &generationService{
		sources:   sources,
		chunks:    chunks,
		notebooks: notebooks,
		quizzes:   quizzes,
		guides:    guides,
		history:   history,
		llm:       llm,
		modelTag:  modelTag,
	}
}

// sourceContent loads the owned source and joins its chunk texts. A source
// without chunks has not finished processing and cannot feed generation.
func (s *generationService) sourceContent(ctx context.Context, sourceID, userID uuid.UUID) (*models.Source, string, error) {
	source, err := s.sources.GetOwned(ctx, sourceID, userID)
	if err != nil {
		return nil, "", err
	}

	chunks, err := s.chunks.ListBySource(ctx, sourceID)
	if err != nil {
		return nil, "", err
	}
	if len(chunks) == 0 {
		return nil, "", apperrors.NewValidation("Source has no content. Please ensure the source has been processed and chunked.")
	}
	return source, joinChunkText(chunks), nil
}

func (s *generationService) notebookContent(ctx context.Context, notebookID, userID uuid.UUID) (*models.Notebook, string, error) {
	notebook, err := s.notebooks.Get(ctx, notebookID, userID)
	if err != nil {
		return nil, "", err
	}

	chunks, err := s.chunks.ListByNotebook(ctx, notebookID)
	if err != nil {
		return nil, "", err
	}
	if len(chunks) == 0 {
		return nil, "", apperrors.NewValidation("Notebook has no sources or sources have no content. Please upload and process sources first.")
	}
	return notebook, joinChunkText(chunks), nil
}

func joinChunkText(chunks []models.Chunk) string {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.PlainText
	}
	return strings.Join(texts, "\n\n")
}

func (s *generationService) SummarizeSource(ctx context.Context, sourceID, userID uuid.UUID, style string, maxLength int) (*services.SummaryResult, error) {
	if style == "" {
		style = "concise"
	}
	if maxLength <= 0 {
		maxLength = 500
	}

	source, content, err := s.sourceContent(ctx, sourceID, userID)
	if err != nil {
		return nil, err
	}

	summary, err := s.llm.GenerateSummary(ctx, content, style, maxLength)
	if err != nil {
		return nil, err
	}

	entry := &models.GenerationHistory{
		UserID:     userID,
		Type:       models.GenerationTypeSummary,
		Title:      fmt.Sprintf("Summary: %s", source.Title),
		Content:    summary,
		ResourceID: &sourceID,
		NotebookID: &source.NotebookID,
	}
	entry.Metadata, err = models.ConvertToJSON(map[string]any{"style": style, "max_length": maxLength})
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary metadata: %w", err)
	}
	if err := s.history.Record(ctx, entry); err != nil {
		return nil, err
	}

	log.Info().Str("source_id", sourceID.String()).Str("style", style).Msg("summary generated")
	return &services.SummaryResult{Summary: summary, Style: style, HistoryID: entry.ID}, nil
}

func (s *generationService) SummarizeNotebook(ctx context.Context, notebookID, userID uuid.UUID, style string, maxLength int) (*services.SummaryResult, error) {
	if style == "" {
		style = "detailed"
	}
	if maxLength <= 0 {
		maxLength = 1000
	}

	notebook, content, err := s.notebookContent(ctx, notebookID, userID)
	if err != nil {
		return nil, err
	}

	summary, err := s.llm.GenerateSummary(ctx, content, style, maxLength)
	if err != nil {
		return nil, err
	}

	entry := &models.GenerationHistory{
		UserID:     userID,
		Type:       models.GenerationTypeSummary,
		Title:      fmt.Sprintf("Notebook Summary: %s", notebook.Title),
		Content:    summary,
		ResourceID: &notebookID,
		NotebookID: &notebookID,
	}
	entry.Metadata, err = models.ConvertToJSON(map[string]any{"style": style, "max_length": maxLength, "scope": "notebook"})
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary metadata: %w", err)
	}
	if err := s.history.Record(ctx, entry); err != nil {
		return nil, err
	}

	log.Info().Str("notebook_id", notebookID.String()).Str("style", style).Msg("notebook summary generated")
	return &services.SummaryResult{Summary: summary, Style: style, HistoryID: entry.ID}, nil
}

// validateQuizParams normalizes difficulty casing and applies the question
// count and difficulty whitelists.
func validateQuizParams(topic string, numQuestions int, difficulty string) (int, string, error) {
	if strings.TrimSpace(topic) == "" {
		return 0, "", apperrors.NewValidation("Quiz topic is required")
	}
	if numQuestions == 0 {
		numQuestions = 10
	}
	if !allowedQuestionCounts[numQuestions] {
		counts := make([]int, 0, len(allowedQuestionCounts))
		for c := range allowedQuestionCounts {
			counts = append(counts, c)
		}
		sort.Ints(counts)
		return 0, "", apperrors.NewValidation(fmt.Sprintf("num_questions must be one of %v", counts))
	}

	difficulty = strings.ToLower(difficulty)
	if difficulty == "" {
		difficulty = "intermediate"
	}
	if !allowedDifficulties[difficulty] {
		return 0, "", apperrors.NewValidation("difficulty must be one of novice, intermediate, master, easy, medium, hard")
	}
	return numQuestions, difficulty, nil
}

func (s *generationService) QuizFromSource(ctx context.Context, sourceID, userID uuid.UUID, topic string, numQuestions int, difficulty string) (*models.Quiz, error) {
	numQuestions, difficulty, err := validateQuizParams(topic, numQuestions, difficulty)
	if err != nil {
		return nil, err
	}

	source, content, err := s.sourceContent(ctx, sourceID, userID)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"source_id": sourceID.String(), "difficulty": difficulty}
	return s.createQuiz(ctx, source.NotebookID, userID, topic, content, numQuestions, difficulty, meta)
}

func (s *generationService) QuizFromNotebook(ctx context.Context, notebookID, userID uuid.UUID, topic string, numQuestions int, difficulty string) (*models.Quiz, error) {
	numQuestions, difficulty, err := validateQuizParams(topic, numQuestions, difficulty)
	if err != nil {
		return nil, err
	}

	_, content, err := s.notebookContent(ctx, notebookID, userID)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"scope": "notebook", "difficulty": difficulty}
	return s.createQuiz(ctx, notebookID, userID, topic, content, numQuestions, difficulty, meta)
}

func (s *generationService) createQuiz(ctx context.Context, notebookID, userID uuid.UUID, topic, content string, numQuestions int, difficulty string, meta map[string]any) (*models.Quiz, error) {
	questions, err := s.llm.GenerateQuiz(ctx, content, numQuestions, difficulty)
	if err != nil {
		return nil, err
	}

	questionsJSON, err := models.ConvertToJSON(questions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode quiz questions: %w", err)
	}
	metadata, err := models.ConvertToJSON(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode quiz metadata: %w", err)
	}

	quiz := &models.Quiz{
		NotebookID: notebookID,
		UserID:     userID,
		Topic:      topic,
		Questions:  questionsJSON,
		Model:      s.modelTag,
		Version:    1,
		Metadata:   metadata,
	}
	if err := s.quizzes.Create(ctx, quiz); err != nil {
		return nil, err
	}

	log.Info().
		Str("quiz_id", quiz.ID.String()).
		Str("notebook_id", notebookID.String()).
		Int("questions", len(questions)).
		Str("difficulty", difficulty).
		Msg("quiz generated")
	return quiz, nil
}

func (s *generationService) StudyGuideFromSource(ctx context.Context, sourceID, userID uuid.UUID, topic, format string) (*models.StudyGuide, error) {
	if format == "" {
		format = "structured"
	}

	source, content, err := s.sourceContent(ctx, sourceID, userID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(topic) == "" {
		topic = source.Title
	}

	meta := map[string]any{"source_id": sourceID.String(), "format": format}
	return s.createStudyGuide(ctx, source.NotebookID, userID, topic, content, format, meta)
}

func (s *generationService) StudyGuideFromNotebook(ctx context.Context, notebookID, userID uuid.UUID, topic, format string) (*models.StudyGuide, error) {
	if format == "" {
		format = "structured"
	}
	if strings.TrimSpace(topic) == "" {
		return nil, apperrors.NewValidation("Study guide topic is required")
	}

	_, content, err := s.notebookContent(ctx, notebookID, userID)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"scope": "notebook", "format": format}
	return s.createStudyGuide(ctx, notebookID, userID, topic, content, format, meta)
}

// createStudyGuide persists the guide under the next version for its topic,
// so regenerating the same topic stacks versions instead of overwriting.
func (s *generationService) createStudyGuide(ctx context.Context, notebookID, userID uuid.UUID, topic, content, format string, meta map[string]any) (*models.StudyGuide, error) {
	guideContent, err := s.llm.GenerateStudyGuide(ctx, content, topic, format)
	if err != nil {
		return nil, err
	}

	version, err := s.guides.NextVersion(ctx, notebookID, topic)
	if err != nil {
		return nil, err
	}
	metadata, err := models.ConvertToJSON(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode study guide metadata: %w", err)
	}

	guide := &models.StudyGuide{
		NotebookID: notebookID,
		UserID:     userID,
		Topic:      topic,
		Content:    guideContent,
		Model:      s.modelTag,
		Version:    version,
		Metadata:   metadata,
	}
	if err := s.guides.Create(ctx, guide); err != nil {
		return nil, err
	}

	log.Info().
		Str("guide_id", guide.ID.String()).
		Str("notebook_id", notebookID.String()).
		Int("version", version).
		Str("format", format).
		Msg("study guide generated")
	return guide, nil
}

func (s *generationService) MindmapFromSource(ctx context.Context, sourceID, userID uuid.UUID, format string) (*services.MindmapResult, error) {
	if format == "" {
		format = "json"
	}

	source, content, err := s.sourceContent(ctx, sourceID, userID)
	if err != nil {
		return nil, err
	}

	title := fmt.Sprintf("Mindmap: %s", source.Title)
	meta := map[string]any{"format": format}
	return s.createMindmap(ctx, userID, &sourceID, &source.NotebookID, title, content, format, meta)
}

func (s *generationService) MindmapFromNotebook(ctx context.Context, notebookID, userID uuid.UUID, format string) (*services.MindmapResult, error) {
	if format == "" {
		format = "json"
	}

	notebook, content, err := s.notebookContent(ctx, notebookID, userID)
	if err != nil {
		return nil, err
	}

	title := fmt.Sprintf("Notebook Mindmap: %s", notebook.Title)
	meta := map[string]any{"format": format, "scope": "notebook"}
	return s.createMindmap(ctx, userID, &notebookID, &notebookID, title, content, format, meta)
}

func (s *generationService) MindmapFromText(ctx context.Context, userID uuid.UUID, text, format string) (*services.MindmapResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidation("text must not be empty")
	}
	format = strings.ToLower(format)
	if format == "" {
		format = "json"
	}
	if !allowedMindmapFormats[format] {
		return nil, apperrors.NewValidation("format must be one of json, mermaid, markdown")
	}

	meta := map[string]any{"format": format, "source": "text_prompt"}
	return s.createMindmap(ctx, userID, nil, nil, "Text-to-Mindmap", text, format, meta)
}

func (s *generationService) createMindmap(ctx context.Context, userID uuid.UUID, resourceID, notebookID *uuid.UUID, title, content, format string, meta map[string]any) (*services.MindmapResult, error) {
	mindmap, err := s.llm.GenerateMindmap(ctx, content, format)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(mindmap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mindmap: %w", err)
	}

	entry := &models.GenerationHistory{
		UserID:     userID,
		Type:       models.GenerationTypeMindmap,
		Title:      title,
		Content:    string(encoded),
		ResourceID: resourceID,
		NotebookID: notebookID,
	}
	entry.Metadata, err = models.ConvertToJSON(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mindmap metadata: %w", err)
	}
	if err := s.history.Record(ctx, entry); err != nil {
		return nil, err
	}

	log.Info().Str("title", title).Str("format", format).Msg("mindmap generated")
	return &services.MindmapResult{Mindmap: mindmap, Format: format, HistoryID: entry.ID}, nil
}
