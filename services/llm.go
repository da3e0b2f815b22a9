package services

import (
	"context"
)

// ChatMessage is one turn of an LLM conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// QuizQuestion is a single generated multiple-choice question.
type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation,omitempty"`
}

// LLMClient talks to the chat-completion and embedding endpoints. Chat
// responses with temperature <= 0.7 and all embeddings are cached; batching,
// retries and backoff are handled inside the client.
type LLMClient interface {
	// GenerateChat returns the assistant reply for the given turns. An empty
	// systemPrompt omits the system turn; maxTokens <= 0 uses the provider
	// default.
	GenerateChat(ctx context.Context, messages []ChatMessage, systemPrompt string, temperature float64, maxTokens int) (string, error)

	// GenerateEmbeddings returns one vector per input text, in input order.
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	GenerateQuiz(ctx context.Context, content string, numQuestions int, difficulty string) ([]QuizQuestion, error)
	GenerateSummary(ctx context.Context, content string, style string, maxLength int) (string, error)
	GenerateStudyGuide(ctx context.Context, content string, topic string, format string) (string, error)
	GenerateMindmap(ctx context.Context, content string, format string) (map[string]any, error)

	HealthCheck(ctx context.Context) error
}
