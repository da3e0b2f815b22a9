package impl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
)

const (
	// ragTopK bounds how many chunks ground a single answer.
	ragTopK = 5
	// historyLoadLimit is how many stored messages are loaded per send;
	// historyPromptTurns of them are forwarded to the model.
	historyLoadLimit   = 10
	historyPromptTurns = 5

	chatTemperature = 0.7

	// fallbackContextTokens applies when the notebook budget cannot be read.
	fallbackContextTokens = 4000
)

const groundedPromptFormat = `You are a helpful assistant answering questions about the following content:

%s

Answer based on the provided context. If the answer is not in the context, say so. Cite which chunk(s) you used when relevant.`

const genericSystemPrompt = "You are a helpful assistant. Answer questions clearly and concisely."

const (
	ragApology  = "I apologize, but I'm having trouble generating a response right now."
	modeApology = "I apologize, but I'm having trouble thinking right now."
)

// modePrompts keys the ungrounded flow's system prompt by conversation mode.
// The map doubles as the whitelist of accepted modes.
var modePrompts = map[models.ConversationMode]string{
	models.ConversationModeChat: "You are MindSpring, a helpful and intelligent AI learning assistant. " +
		"Your goal is to help the user learn and understand complex topics. " +
		"Explain concepts clearly, provide examples, and be encouraging.",
	models.ConversationModeTutor: "You are MindSpring in Tutor Mode. Break down complex topics step by step. " +
		"Use analogies, relatable examples, and Socratic questioning to guide the " +
		"user toward understanding. Celebrate progress and encourage critical thinking.",
	models.ConversationModeFactChecker: "You are MindSpring in Fact-Checker Mode. Verify claims rigorously. " +
		"Clearly separate confirmed facts from opinions or uncertain claims. " +
		"Flag anything unverifiable and always note the basis for your assessment.",
	models.ConversationModeBrainstormer: "You are MindSpring in Brainstormer Mode. Generate creative ideas, alternatives, " +
		"and unexpected angles on the topic. Think laterally, challenge assumptions, " +
		"and encourage the user to explore bold possibilities.",
}

type chatService struct {
	conversations services.ConversationRepository
	messages      services.MessageRepository
	notebooks     services.NotebookService
	chunks        services.ChunkRepository
	llm           services.LLMClient
}

func NewChatService(
	conversations services.ConversationRepository,
	messages services.MessageRepository,
	notebooks services.NotebookService,
	chunks services.ChunkRepository,
	llm services.LLMClient,
) services.ChatService {
	return &chatService{
		conversations: conversations,
		messages:      messages,
		notebooks:     notebooks,
		chunks:        chunks,
		llm:           llm,
	}
}

func (s *chatService) CreateConversation(ctx context.Context, userID uuid.UUID, req models.CreateConversationRequest) (*models.Conversation, error) {
	if _, err := s.notebooks.Get(ctx, req.NotebookID, userID); err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = models.ConversationModeChat
	}
	if _, ok := modePrompts[mode]; !ok {
		return nil, apperrors.NewValidation(fmt.Sprintf("Invalid conversation mode: %s", mode))
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = fmt.Sprintf("Conversation %s", time.Now().Format("2006-01-02 15:04"))
	}

	conversation := &models.Conversation{
		NotebookID: req.NotebookID,
		UserID:     userID,
		SourceID:   req.SourceID,
		Title:      title,
		Mode:       mode,
	}
	if err := s.conversations.Create(ctx, conversation); err != nil {
		return nil, err
	}

	log.Info().
		Str("conversation_id", conversation.ID.String()).
		Str("notebook_id", req.NotebookID.String()).
		Str("mode", string(mode)).
		Msg("conversation created")
	return conversation, nil
}

func (s *chatService) GetConversation(ctx context.Context, id, userID uuid.UUID) (*models.Conversation, error) {
	return s.conversations.GetByIDAndUser(ctx, id, userID)
}

func (s *chatService) ListConversations(ctx context.Context, notebookID, userID uuid.UUID) ([]models.Conversation, error) {
	if _, err := s.notebooks.Get(ctx, notebookID, userID); err != nil {
		return nil, err
	}
	return s.conversations.ListByNotebook(ctx, notebookID, userID)
}

// UpdateConversation accepts title and mode only; other fields are fixed at
// creation.
func (s *chatService) UpdateConversation(ctx context.Context, id, userID uuid.UUID, req models.UpdateConversationRequest) (*models.Conversation, error) {
	conversation, err := s.conversations.GetByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, apperrors.NewValidation("Title cannot be empty")
		}
		updates["title"] = title
	}
	if req.Mode != nil {
		if _, ok := modePrompts[*req.Mode]; !ok {
			return nil, apperrors.NewValidation(fmt.Sprintf("Invalid conversation mode: %s", *req.Mode))
		}
		updates["mode"] = *req.Mode
	}
	if len(updates) == 0 {
		return conversation, nil
	}

	updated, err := s.conversations.Update(ctx, id, updates)
	if err != nil {
		return nil, err
	}
	log.Info().Str("conversation_id", id.String()).Msg("conversation updated")
	return updated, nil
}

func (s *chatService) DeleteConversation(ctx context.Context, id, userID uuid.UUID) error {
	if _, err := s.conversations.GetByIDAndUser(ctx, id, userID); err != nil {
		return err
	}
	if err := s.conversations.SoftDelete(ctx, id); err != nil {
		return err
	}
	log.Info().Str("conversation_id", id.String()).Msg("conversation deleted")
	return nil
}

func (s *chatService) ListMessages(ctx context.Context, conversationID, userID uuid.UUID, limit int) ([]models.Message, error) {
	if _, err := s.conversations.GetByIDAndUser(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return s.messages.ListRecent(ctx, conversationID, limit)
}

func (s *chatService) SendMessage(ctx context.Context, conversationID, userID uuid.UUID, content string, useRAG bool) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewValidation("Message content is empty")
	}
	if useRAG {
		return s.sendWithRAG(ctx, conversationID, userID, content)
	}
	return s.sendWithContext(ctx, conversationID, userID, content)
}

// sendWithRAG grounds the reply in retrieved chunks. Retrieval and generation
// failures degrade (no context, apology text); only authorization and
// persistence failures surface to the caller.
func (s *chatService) sendWithRAG(ctx context.Context, conversationID, userID uuid.UUID, content string) (*models.Message, error) {
	conversation, history, err := s.loadConversationState(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	var (
		contextTexts []string
		chunkIDs     []string
	)
	hits, err := s.chunks.SearchByText(ctx, content, conversation.NotebookID, conversation.SourceID, ragTopK)
	if err != nil {
		log.Warn().Err(err).
			Str("conversation_id", conversationID.String()).
			Msg("retrieval failed, continuing without context")
	} else {
		for _, chunk := range hits {
			contextTexts = append(contextTexts, chunk.PlainText)
			chunkIDs = append(chunkIDs, chunk.ID.String())
		}
	}

	contextTexts = s.fitContextBudget(ctx, conversation, userID, contextTexts)
	chunkIDs = chunkIDs[:len(contextTexts)]

	systemPrompt := genericSystemPrompt
	if len(contextTexts) > 0 {
		blocks := make([]string, len(contextTexts))
		for i, text := range contextTexts {
			blocks[i] = fmt.Sprintf("[Chunk %d]: %s", i+1, text)
		}
		systemPrompt = fmt.Sprintf(groundedPromptFormat, strings.Join(blocks, "\n\n"))
	}

	turns := promptTurns(history, historyPromptTurns, content)
	reply, err := s.llm.GenerateChat(ctx, turns, systemPrompt, chatTemperature, 0)
	if err != nil {
		log.Error().Err(err).
			Str("conversation_id", conversationID.String()).
			Msg("chat generation failed")
		reply = ragApology
	}

	return s.persistTurn(ctx, conversationID, content, reply, chunkIDs, nil)
}

// sendWithContext answers from conversation history alone, under the prompt
// for the conversation's mode.
func (s *chatService) sendWithContext(ctx context.Context, conversationID, userID uuid.UUID, content string) (*models.Message, error) {
	conversation, history, err := s.loadConversationState(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	mode := conversation.Mode
	systemPrompt, ok := modePrompts[mode]
	if !ok {
		mode = models.ConversationModeChat
		systemPrompt = modePrompts[mode]
	}

	turns := promptTurns(history, len(history), content)
	reply, err := s.llm.GenerateChat(ctx, turns, systemPrompt, chatTemperature, 0)
	if err != nil {
		log.Error().Err(err).
			Str("conversation_id", conversationID.String()).
			Str("mode", string(mode)).
			Msg("mode chat generation failed")
		reply = modeApology
	}

	assistantMeta := map[string]any{"source": "contextual", "mode": string(mode)}
	return s.persistTurn(ctx, conversationID, content, reply, nil, assistantMeta)
}

// loadConversationState fetches the conversation and its recent messages in
// parallel. The ownership check rides on the conversation load.
func (s *chatService) loadConversationState(ctx context.Context, conversationID, userID uuid.UUID) (*models.Conversation, []models.Message, error) {
	var (
		conversation *models.Conversation
		history      []models.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		conversation, err = s.conversations.GetByIDAndUser(gctx, conversationID, userID)
		return err
	})
	g.Go(func() error {
		var err error
		history, err = s.messages.ListRecent(gctx, conversationID, historyLoadLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return conversation, history, nil
}

// fitContextBudget drops chunks from the tail once the notebook's token
// budget is exhausted, estimating four characters per token. The best match
// is always kept.
func (s *chatService) fitContextBudget(ctx context.Context, conversation *models.Conversation, userID uuid.UUID, texts []string) []string {
	if len(texts) == 0 {
		return texts
	}

	budget := fallbackContextTokens
	if notebook, err := s.notebooks.Get(ctx, conversation.NotebookID, userID); err == nil && notebook.MaxContextTokens > 0 {
		budget = notebook.MaxContextTokens
	} else if err != nil {
		log.Warn().Err(err).
			Str("notebook_id", conversation.NotebookID.String()).
			Msg("context budget unavailable, using default")
	}

	kept, used := 0, 0
	for _, text := range texts {
		cost := len(text)/4 + 1
		if kept > 0 && used+cost > budget {
			break
		}
		used += cost
		kept++
	}
	if kept < len(texts) {
		log.Info().
			Int("retrieved", len(texts)).
			Int("kept", kept).
			Int("budget_tokens", budget).
			Msg("context trimmed to notebook budget")
	}
	return texts[:kept]
}

// promptTurns converts the last maxTurns stored messages plus the new user
// message into LLM chat turns, oldest first.
func promptTurns(history []models.Message, maxTurns int, content string) []services.ChatMessage {
	prior := history
	if maxTurns >= 0 && len(prior) > maxTurns {
		prior = prior[len(prior)-maxTurns:]
	}
	turns := make([]services.ChatMessage, 0, len(prior)+1)
	for _, msg := range prior {
		turns = append(turns, services.ChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return append(turns, services.ChatMessage{Role: "user", Content: content})
}

// persistTurn writes the user message and the assistant reply atomically and
// returns the assistant message. Both halves carry the grounding chunk IDs.
func (s *chatService) persistTurn(ctx context.Context, conversationID uuid.UUID, userContent, reply string, chunkIDs []string, assistantMeta map[string]any) (*models.Message, error) {
	emptyMeta, err := models.ConvertToJSON(map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message metadata: %w", err)
	}
	replyMeta := emptyMeta
	if assistantMeta != nil {
		replyMeta, err = models.ConvertToJSON(assistantMeta)
		if err != nil {
			return nil, fmt.Errorf("failed to encode message metadata: %w", err)
		}
	}

	userMsg := &models.Message{
		ConversationID: conversationID,
		Role:           models.MessageRoleUser,
		Content:        userContent,
		ChunkIDs:       pq.StringArray(chunkIDs),
		Metadata:       emptyMeta,
	}
	assistantMsg := &models.Message{
		ConversationID: conversationID,
		Role:           models.MessageRoleAssistant,
		Content:        reply,
		ChunkIDs:       pq.StringArray(chunkIDs),
		Metadata:       replyMeta,
	}
	if err := s.messages.CreateTurn(ctx, userMsg, assistantMsg); err != nil {
		return nil, err
	}
	return assistantMsg, nil
}
