package impl

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services"
)

type chatServiceFixture struct {
	conversations *fakeConversationRepo
	messages      *fakeMessageRepo
	notebooks     *fakeNotebookService
	chunks        *fakeChunkRepo
	llm           *fakeLLM
	svc           services.ChatService

	userID     uuid.UUID
	notebookID uuid.UUID
}

func newChatServiceFixture() *chatServiceFixture {
	f := &chatServiceFixture{
		conversations: newFakeConversationRepo(),
		messages:      &fakeMessageRepo{},
		notebooks:     newFakeNotebookService(),
		chunks:        &fakeChunkRepo{},
		llm:           &fakeLLM{},
		userID:        uuid.New(),
		notebookID:    uuid.New(),
	}
	f.notebooks.grant(f.notebookID, f.userID)
	f.svc = NewChatService(f.conversations, f.messages, f.notebooks, f.chunks, f.llm)
	return f
}

func (f *chatServiceFixture) conversation(t *testing.T, mode models.ConversationMode) *models.Conversation {
	t.Helper()
	conversation, err := f.svc.CreateConversation(context.Background(), f.userID, models.CreateConversationRequest{
		NotebookID: f.notebookID,
		Title:      "study session",
		Mode:       mode,
	})
	require.NoError(t, err)
	return conversation
}

func searchHit(notebookID uuid.UUID, text string) models.Chunk {
	return models.Chunk{ID: uuid.New(), NotebookID: notebookID, SourceID: uuid.New(), PlainText: text}
}

func TestCreateConversation_Defaults(t *testing.T) {
	f := newChatServiceFixture()

	conversation, err := f.svc.CreateConversation(context.Background(), f.userID, models.CreateConversationRequest{
		NotebookID: f.notebookID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ConversationModeChat, conversation.Mode)
	assert.True(t, strings.HasPrefix(conversation.Title, "Conversation "), "got title %q", conversation.Title)
	assert.NotEqual(t, uuid.Nil, conversation.ID)
}

func TestCreateConversation_ForeignNotebookNotFound(t *testing.T) {
	f := newChatServiceFixture()

	_, err := f.svc.CreateConversation(context.Background(), uuid.New(), models.CreateConversationRequest{
		NotebookID: f.notebookID,
	})
	domainErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeNotFound, domainErr.Code)
}

func TestCreateConversation_RejectsUnknownMode(t *testing.T) {
	f := newChatServiceFixture()

	_, err := f.svc.CreateConversation(context.Background(), f.userID, models.CreateConversationRequest{
		NotebookID: f.notebookID,
		Mode:       models.ConversationMode("philosopher"),
	})
	domainErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeValidation, domainErr.Code)
}

func TestUpdateConversation_TitleAndModeOnly(t *testing.T) {
	f := newChatServiceFixture()
	conversation := f.conversation(t, models.ConversationModeChat)

	title := "renamed"
	mode := models.ConversationModeTutor
	updated, err := f.svc.UpdateConversation(context.Background(), conversation.ID, f.userID, models.UpdateConversationRequest{
		Title: &title,
		Mode:  &mode,
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.Equal(t, models.ConversationModeTutor, updated.Mode)

	bad := models.ConversationMode("oracle")
	_, err = f.svc.UpdateConversation(context.Background(), conversation.ID, f.userID, models.UpdateConversationRequest{Mode: &bad})
	domainErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeValidation, domainErr.Code)
}

func TestUpdateConversation_ForeignUserNotFound(t *testing.T) {
	f := newChatServiceFixture()
	conversation := f.conversation(t, models.ConversationModeChat)

	title := "hijack"
	_, err := f.svc.UpdateConversation(context.Background(), conversation.ID, uuid.New(), models.UpdateConversationRequest{Title: &title})
	domainErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeNotFound, domainErr.Code)
}

func TestDeleteConversation_HidesFromReads(t *testing.T) {
	f := newChatServiceFixture()
	conversation := f.conversation(t, models.ConversationModeChat)

	require.NoError(t, f.svc.DeleteConversation(context.Background(), conversation.ID, f.userID))

	_, err := f.svc.GetConversation(context.Background(), conversation.ID, f.userID)
	domainErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeNotFound, domainErr.Code)

	listed, err := f.svc.ListConversations(context.Background(), f.notebookID, f.userID)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestListMessages_ChecksOwnership(t *testing.T) {
	f := newChatServiceFixture()
	conversation := f.conversation(t, models.ConversationModeChat)

	_, err := f.svc.ListMessages(context.Background(), conversation.ID, uuid.New(), 10)
	domainErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeNotFound, domainErr.Code)
}

func TestSendMessage_GroundsReplyInRetrievedChunks(t *testing.T) {
	f := newChatServiceFixture()
	conversation := f.conversation(t, models.ConversationModeChat)
	f.chunks.searchHits = []models.Chunk{
		searchHit(f.notebookID, "Goroutines are multiplexed onto OS threads."),
		searchHit(f.notebookID, "Channels synchronize goroutine communication."),
	}

	reply, err := f.svc.SendMessage(context.Background(), conversation.ID, f.userID, "How do goroutines run?", true)
	require.NoError(t, err)
	assert.Equal(t, models.MessageRoleAssistant, reply.Role)
	assert.Equal(t, "fake reply", reply.Content)
	assert.Len(t, reply.ChunkIDs, 2)

	call := f.llm.lastChatCall()
	assert.Contains(t, call.systemPrompt, "[Chunk 1]: Goroutines are multiplexed onto OS threads.")
	assert.Contains(t, call.systemPrompt, "[Chunk 2]: Channels synchronize goroutine communication.")
	assert.Contains(t, call.systemPrompt, "If the answer is not in the context, say so.")
	assert.InDelta(t, 0.7, call.temperature, 1e-9)

	require.Len(t, f.messages.messages, 2)
	userMsg, assistantMsg := f.messages.messages[0], f.messages.messages[1]
	assert.Equal(t, models.MessageRoleUser, userMsg.Role)
	assert.Equal(t, "How do goroutines run?", userMsg.Content)
	assert.Equal(t, userMsg.ChunkIDs, assistantMsg.ChunkIDs)
	assert.Equal(t, 1, f.messages.turns)
	assert.True(t, userMsg.CreatedAt.Before(assistantMsg.CreatedAt))
}

func TestSendMessage_RetrievalFailureDegradesToGenericPrompt(t *testing.T) {
	f := newChatServiceFixture()
	conversation := f.conversation(t, models.ConversationModeChat)
	f.chunks.searchErr = errors.New("pgvector offline")

	reply, err := f.svc.SendMessage(context.Background(), conversation.ID, f.userID, "What is a mutex?", true)
	require.NoError(t, err)
	assert.Equal(t, "fake reply", reply.Content)
	assert.Empty(t, reply.ChunkIDs)

	call := f.llm.lastChatCall()
	assert.Equal(t, "You are a helpful assistant. Answer questions clearly and concisely.", call.systemPrompt)
}

func TestSendMessage_LLMFailureYieldsApology(t *testing.T) {
	f := newChatServiceFixture()
	conversation := f.conversation(t, models.ConversationModeChat)
	f.llm.chatFn = func([]services.ChatMessage, string) (string, error) {
		return "", apperrors.NewExternalService("LLMClient", "upstream 500")
	}

	reply, err := f.svc.SendMessage(context.Background(), conversation.ID, f.userID, "hello", true)
	require.NoError(t, err)
	assert.Equal(t, "I apologize, but I'm having trouble generating a response right now.", reply.Content)

	// Both halves of the turn are still persisted.
	assert.Equal(t, 1, f.messages.turns)
}

func TestSendMessage_HistoryWindowKeepsLastFiveTurns(t *testing.T) {
	f := newChatServiceFixture()
	conversation := f.conversation(t, models.ConversationModeChat)

	for i := 0; i < 8; i++ {
		role := models.MessageRoleUser
		if i%2 == 1 {
			role = models.MessageRoleAssistant
		}
		require.NoError(t, f.messages.Create(context.Background(), &models.Message{
			ConversationID: conversation.ID,
			Role:           role,
			Content:        strings.Repeat("x", i+1),
		}))
	}

	_, err := f.svc.SendMessage(context.Background(), conversation.ID, f.userID, "latest question", true)
	require.NoError(t, err)

	call := f.llm.lastChatCall()
	require.Len(t, call.messages, 6)
	assert.Equal(t, "latest question", call.messages[5].Content)
	// The oldest three stored messages fall outside the window.
	assert.Equal(t, strings.Repeat("x", 4), call.messages[0].Content)
}

func TestSendMessage_ContextTrimmedToNotebookBudget(t *testing.T) {
	f := newChatServiceFixture()
	f.notebooks.contextTokens = 300
	conversation := f.conversation(t, models.ConversationModeChat)

	f.chunks.searchHits = []models.Chunk{
		searchHit(f.notebookID, strings.Repeat("a", 1000)),
		searchHit(f.notebookID, strings.Repeat("b", 1000)),
		searchHit(f.notebookID, strings.Repeat("c", 1000)),
	}

	reply, err := f.svc.SendMessage(context.Background(), conversation.ID, f.userID, "summarize", true)
	require.NoError(t, err)

	// 1000 chars estimate to ~251 tokens, so only the best hit fits the
	// 300-token budget.
	assert.Len(t, reply.ChunkIDs, 1)
	call := f.llm.lastChatCall()
	assert.Contains(t, call.systemPrompt, "[Chunk 1]")
	assert.NotContains(t, call.systemPrompt, "[Chunk 2]")
}

func TestSendMessage_BudgetAlwaysKeepsBestHit(t *testing.T) {
	f := newChatServiceFixture()
	f.notebooks.contextTokens = 10
	conversation := f.conversation(t, models.ConversationModeChat)

	f.chunks.searchHits = []models.Chunk{searchHit(f.notebookID, strings.Repeat("z", 5000))}

	reply, err := f.svc.SendMessage(context.Background(), conversation.ID, f.userID, "what is this about?", true)
	require.NoError(t, err)
	assert.Len(t, reply.ChunkIDs, 1)
}

func TestSendMessage_ModeVariantSkipsRetrieval(t *testing.T) {
	f := newChatServiceFixture()
	conversation := f.conversation(t, models.ConversationModeTutor)

	reply, err := f.svc.SendMessage(context.Background(), conversation.ID, f.userID, "teach me recursion", false)
	require.NoError(t, err)
	assert.Equal(t, 0, f.chunks.searchCalls)
	assert.Empty(t, reply.ChunkIDs)

	call := f.llm.lastChatCall()
	assert.Contains(t, call.systemPrompt, "Tutor Mode")
	assert.Contains(t, call.systemPrompt, "Socratic questioning")

	meta := models.MetadataMap(reply.Metadata)
	assert.Equal(t, "contextual", meta["source"])
	assert.Equal(t, "tutor", meta["mode"])
}

func TestSendMessage_ModeVariantApologyOnLLMFailure(t *testing.T) {
	f := newChatServiceFixture()
	conversation := f.conversation(t, models.ConversationModeBrainstormer)
	f.llm.chatFn = func([]services.ChatMessage, string) (string, error) {
		return "", errors.New("timeout")
	}

	reply, err := f.svc.SendMessage(context.Background(), conversation.ID, f.userID, "ideas?", false)
	require.NoError(t, err)
	assert.Equal(t, "I apologize, but I'm having trouble thinking right now.", reply.Content)
}

func TestSendMessage_UnknownStoredModeFallsBackToChatPrompt(t *testing.T) {
	f := newChatServiceFixture()
	conversation := &models.Conversation{
		NotebookID: f.notebookID,
		UserID:     f.userID,
		Title:      "legacy",
		Mode:       models.ConversationMode("reviewer"),
	}
	require.NoError(t, f.conversations.Create(context.Background(), conversation))

	reply, err := f.svc.SendMessage(context.Background(), conversation.ID, f.userID, "hi", false)
	require.NoError(t, err)

	call := f.llm.lastChatCall()
	assert.Contains(t, call.systemPrompt, "helpful and intelligent AI learning assistant")
	meta := models.MetadataMap(reply.Metadata)
	assert.Equal(t, "chat", meta["mode"])
}

func TestSendMessage_EmptyContentRejected(t *testing.T) {
	f := newChatServiceFixture()
	conversation := f.conversation(t, models.ConversationModeChat)

	_, err := f.svc.SendMessage(context.Background(), conversation.ID, f.userID, "   \n", true)
	domainErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeValidation, domainErr.Code)
	assert.Empty(t, f.messages.messages)
}

func TestSendMessage_ForeignConversationNotFound(t *testing.T) {
	f := newChatServiceFixture()
	conversation := f.conversation(t, models.ConversationModeChat)

	_, err := f.svc.SendMessage(context.Background(), conversation.ID, uuid.New(), "hello", true)
	domainErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeNotFound, domainErr.Code)
	assert.Empty(t, f.messages.messages)
}
