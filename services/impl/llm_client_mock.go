package impl

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"

	"github.com/mindspring-backend/services"
)

// mockLLMClient stands in when no API key is configured. Embeddings are
// deterministic per input text, so identical texts always land on the same
// unit vector and retrieval stays meaningful in local setups.
type mockLLMClient struct {
	dimension int
}

func NewMockLLMClient(dimension int) services.LLMClient {
	if dimension <= 0 {
		dimension = 1536
	}
	return &mockLLMClient{dimension: dimension}
}

func (m *mockLLMClient) GenerateChat(_ context.Context, messages []services.ChatMessage, systemPrompt string, _ float64, _ int) (string, error) {
	lastUser := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			lastUser = messages[i].Content
			break
		}
	}
	if lastUser == "" {
		return "This is a mock response.", nil
	}
	if systemPrompt != "" {
		return fmt.Sprintf("Mock grounded answer to: %s", truncateContent(lastUser, 120)), nil
	}
	return fmt.Sprintf("Mock answer to: %s", truncateContent(lastUser, 120)), nil
}

func (m *mockLLMClient) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = deterministicVector(text, m.dimension)
	}
	return vecs, nil
}

func (m *mockLLMClient) GenerateQuiz(_ context.Context, _ string, numQuestions int, _ string) ([]services.QuizQuestion, error) {
	if numQuestions <= 0 {
		numQuestions = 5
	}
	questions := make([]services.QuizQuestion, numQuestions)
	for i := range questions {
		questions[i] = services.QuizQuestion{
			Question:      fmt.Sprintf("Mock question %d about the provided content?", i+1),
			Options:       []string{"Option A", "Option B", "Option C", "Option D"},
			CorrectAnswer: "A",
			Explanation:   "Mock explanation.",
		}
	}
	return questions, nil
}

func (m *mockLLMClient) GenerateSummary(_ context.Context, content string, style string, _ int) (string, error) {
	return fmt.Sprintf("Mock %s summary: %s", style, truncateContent(strings.TrimSpace(content), 160)), nil
}

func (m *mockLLMClient) GenerateStudyGuide(_ context.Context, content string, topic string, format string) (string, error) {
	if topic == "" {
		topic = "the provided content"
	}
	return fmt.Sprintf("# Mock %s study guide on %s\n\n%s", format, topic, truncateContent(strings.TrimSpace(content), 160)), nil
}

func (m *mockLLMClient) GenerateMindmap(_ context.Context, _ string, format string) (map[string]any, error) {
	if format != "json" {
		return map[string]any{"content": "- Mock mindmap\n  - Branch 1\n  - Branch 2"}, nil
	}
	return map[string]any{
		"root": map[string]any{
			"id":    "root",
			"label": "Mock Topic",
			"children": []any{
				map[string]any{"id": "node1", "label": "Branch 1"},
				map[string]any{"id": "node2", "label": "Branch 2"},
			},
		},
	}, nil
}

func (m *mockLLMClient) HealthCheck(_ context.Context) error {
	return nil
}

// deterministicVector seeds a PRNG from the text so equal texts map to equal
// unit vectors while distinct texts land nearly orthogonal at high dimension.
func deterministicVector(text string, dimension int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, dimension)
	var norm float64
	for i := range vec {
		v := rng.Float64()*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
