package impl

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/config"
	"github.com/mindspring-backend/metrics"
	"github.com/mindspring-backend/services"
)

// chatCacheMaxTemperature gates response caching. Above it, sampling varies
// too much for a cached reply to be representative.
const chatCacheMaxTemperature = 0.7

const defaultChatMaxTokens = 2048

// difficultyPrompts maps user-facing difficulty labels to the phrasing the
// model sees. Legacy aliases stay accepted.
var difficultyPrompts = map[string]string{
	"novice":       "easy (introductory, core definitions and broad concepts)",
	"intermediate": "intermediate (relationships between ideas, process-based questions)",
	"master":       "advanced (deep inference, complex synthesis, expert-level reasoning)",
	"easy":         "easy (introductory)",
	"medium":       "intermediate",
	"hard":         "advanced",
}

var summaryStyles = map[string]string{
	"concise":       "Provide a brief, concise summary",
	"detailed":      "Provide a comprehensive, detailed summary covering all major points",
	"bullet_points": "Provide a summary in bullet point format with key points",
}

var studyGuideFormats = map[string]string{
	"structured": "Create a well-structured study guide with clear sections, headings, and organized content. Include key concepts, definitions, and important points.",
	"outline":    "Create a detailed outline format with hierarchical structure using headings and subheadings. Focus on organization and structure.",
	"detailed":   "Create a comprehensive, detailed study guide with in-depth explanations, examples, and thorough coverage of all topics.",
}

var mindmapFormats = map[string]string{
	"json": `Return a JSON object with hierarchical structure. Format:
{
  "root": {
    "id": "root",
    "label": "Main Topic",
    "children": [
      {
        "id": "node1",
        "label": "Subtopic 1",
        "children": [
          {"id": "leaf1", "label": "Detail 1"},
          {"id": "leaf2", "label": "Detail 2"}
        ]
      }
    ]
  }
}`,
	"mermaid":  "Return Mermaid diagram syntax for a mindmap. Use 'graph TD' or 'mindmap' format.",
	"markdown": "Return a markdown-formatted hierarchical list with proper indentation.",
}

type chatRequest struct {
	Model       string                 `json:"model"`
	Messages    []services.ChatMessage `json:"messages"`
	Temperature float64                `json:"temperature"`
	MaxTokens   int                    `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type embeddingItem struct {
	Embedding []float32 `json:"embedding"`
}

type embeddingEnvelope struct {
	Data []embeddingItem `json:"data"`
}

// llmClient talks to an OpenAI-compatible API. One instance with one pooled
// http.Client serves the whole process.
type llmClient struct {
	chatEndpoint      string
	embeddingEndpoint string
	apiKey            string
	embeddingAPIKey   string
	model             string
	embeddingModel    string

	batchSize            int
	maxConcurrentBatches int
	maxRetries           int
	chatCacheTTL         time.Duration
	embedCacheTTL        time.Duration

	httpClient *http.Client
	cache      services.CacheProvider
}

func NewLLMClient(cfg *config.Config, cache services.CacheProvider) services.LLMClient {
	embeddingKey := cfg.Embedding.APIKey
	if embeddingKey == "" {
		embeddingKey = cfg.LLM.APIKey
	}
	return &llmClient{
		chatEndpoint:         strings.TrimSuffix(cfg.LLM.BaseURL, "/") + "/chat/completions",
		embeddingEndpoint:    cfg.Embedding.Endpoint,
		apiKey:               cfg.LLM.APIKey,
		embeddingAPIKey:      embeddingKey,
		model:                cfg.LLM.Model,
		embeddingModel:       cfg.Embedding.Model,
		batchSize:            cfg.Embedding.BatchSize,
		maxConcurrentBatches: cfg.Embedding.MaxConcurrentBatches,
		maxRetries:           cfg.LLM.MaxRetries,
		chatCacheTTL:         time.Duration(cfg.LLM.ChatCacheTTLSeconds) * time.Second,
		embedCacheTTL:        time.Duration(cfg.Embedding.CacheTTLSeconds) * time.Second,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		cache: cache,
	}
}

func (c *llmClient) GenerateChat(ctx context.Context, messages []services.ChatMessage, systemPrompt string, temperature float64, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = defaultChatMaxTokens
	}

	chat := make([]services.ChatMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		chat = append(chat, services.ChatMessage{Role: "system", Content: systemPrompt})
	}
	chat = append(chat, messages...)

	var cacheKey string
	if temperature <= chatCacheMaxTemperature {
		cacheKey = chatCacheKey(chat, c.model, temperature, maxTokens)
		if data, ok := c.cache.Get(ctx, cacheKey); ok {
			log.Debug().Msg("llm chat cache hit")
			return string(data), nil
		}
	}

	result, err := c.chatCompletion(ctx, chat, temperature, maxTokens)
	if err != nil {
		return "", err
	}

	if cacheKey != "" {
		c.cache.Set(ctx, cacheKey, []byte(result), c.chatCacheTTL)
	}
	return result, nil
}

func (c *llmClient) chatCompletion(ctx context.Context, chat []services.ChatMessage, temperature float64, maxTokens int) (string, error) {
	jsonData, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    chat,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatEndpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.LLMCallDuration.WithLabelValues("chat").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", apperrors.NewExternalService("llm", "chat completion request failed").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.NewExternalService("llm", "failed to read chat response").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewExternalService("llm",
			fmt.Sprintf("chat completion returned status %d", resp.StatusCode)).
			WithDetail("body", truncateForLog(string(body), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", apperrors.NewExternalService("llm", "invalid chat response payload").WithCause(err)
	}
	if len(parsed.Choices) == 0 {
		return "", apperrors.NewExternalService("llm", "chat response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *llmClient) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	cacheHits := 0

	// Collect cache misses, deduplicated so one unique text is embedded once
	// no matter how often it repeats in the input.
	missTexts := make([]string, 0, len(texts))
	missIndices := make(map[string][]int, len(texts))
	for i, text := range texts {
		if len(missIndices[text]) > 0 {
			missIndices[text] = append(missIndices[text], i)
			continue
		}
		if data, ok := c.cache.Get(ctx, embedCacheKey(c.embeddingModel, text)); ok {
			var vec []float32
			if err := json.Unmarshal(data, &vec); err == nil {
				results[i] = vec
				cacheHits++
				continue
			}
			log.Warn().Msg("discarding undecodable cached embedding")
		}
		missTexts = append(missTexts, text)
		missIndices[text] = append(missIndices[text], i)
	}

	if cacheHits > 0 {
		log.Debug().Int("hits", cacheHits).Int("total", len(texts)).Msg("embedding cache hits")
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.embedUncached(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, text := range missTexts {
		for _, idx := range missIndices[text] {
			results[idx] = fresh[j]
		}
		if data, err := json.Marshal(fresh[j]); err == nil {
			c.cache.Set(ctx, embedCacheKey(c.embeddingModel, text), data, c.embedCacheTTL)
		}
	}
	return results, nil
}

// embedUncached fans the texts out over concurrent batches and reassembles
// the vectors in input order.
func (c *llmClient) embedUncached(ctx context.Context, texts []string) ([][]float32, error) {
	batchSize := c.batchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	var batches [][]string
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[start:end])
	}
	log.Debug().Int("texts", len(texts)).Int("batches", len(batches)).Msg("embedding fan-out")

	batchResults := make([][][]float32, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrentBatches)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			vecs, err := c.embedBatch(gctx, batch)
			if err != nil {
				return err
			}
			batchResults[i] = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	flat := make([][]float32, 0, len(texts))
	for _, vecs := range batchResults {
		flat = append(flat, vecs...)
	}
	return flat, nil
}

// embedBatch posts one batch, retrying transient failures with doubling
// backoff. Authentication failures abort immediately.
func (c *llmClient) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	jsonData, err := json.Marshal(map[string]any{
		"model": c.embeddingModel,
		"input": batch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.embeddingEndpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.embeddingAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.embeddingAPIKey)
	}

	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.EmbeddingBatchRetries.Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			req.Body = io.NopCloser(bytes.NewBuffer(jsonData))
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		metrics.EmbeddingBatchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt+1).Msg("embedding request failed")
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			vecs, err := parseEmbeddingResponse(body)
			if err != nil {
				return nil, apperrors.NewExternalService("embedding", "unexpected embedding response format").WithCause(err)
			}
			if len(vecs) != len(batch) {
				return nil, apperrors.NewExternalService("embedding",
					fmt.Sprintf("embedding count mismatch: sent %d texts, got %d vectors", len(batch), len(vecs)))
			}
			return vecs, nil

		case resp.StatusCode == http.StatusUnauthorized,
			resp.StatusCode == http.StatusPaymentRequired,
			resp.StatusCode == http.StatusForbidden:
			return nil, apperrors.NewExternalService("embedding",
				fmt.Sprintf("embedding API authentication error: %d", resp.StatusCode))

		case isRetryableStatus(resp.StatusCode):
			lastErr = fmt.Errorf("embedding API returned %d: %s", resp.StatusCode, truncateForLog(string(body), 200))
			log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Msg("retryable embedding API error")

		default:
			return nil, apperrors.NewExternalService("embedding",
				fmt.Sprintf("embedding API returned %d", resp.StatusCode)).
				WithDetail("body", truncateForLog(string(body), 200))
		}
	}

	return nil, apperrors.NewExternalService("embedding",
		fmt.Sprintf("embedding batch failed after %d attempts", c.maxRetries)).WithCause(lastErr)
}

func parseEmbeddingResponse(body []byte) ([][]float32, error) {
	var envelope embeddingEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Data != nil {
		return collectEmbeddings(envelope.Data), nil
	}
	var items []embeddingItem
	if err := json.Unmarshal(body, &items); err == nil {
		return collectEmbeddings(items), nil
	}
	return nil, fmt.Errorf("response is neither {data:[...]} nor a bare array")
}

func collectEmbeddings(items []embeddingItem) [][]float32 {
	vecs := make([][]float32, len(items))
	for i, item := range items {
		vecs[i] = item.Embedding
	}
	return vecs
}

func (c *llmClient) GenerateQuiz(ctx context.Context, content string, numQuestions int, difficulty string) ([]services.QuizQuestion, error) {
	label := difficulty
	if mapped, ok := difficultyPrompts[strings.ToLower(difficulty)]; ok {
		label = mapped
	}

	prompt := fmt.Sprintf(`Generate %d quiz questions at %s difficulty based on the following content.

Content:
%s

Format each question as JSON with:
- question: The question text
- options: Array of 4 options [A, B, C, D]
- correct_answer: The correct option letter (A, B, C, or D)
- explanation: Brief explanation of the correct answer

Return only a JSON array of questions, no other text. Example format:
[
  {
    "question": "What is...?",
    "options": ["Option A", "Option B", "Option C", "Option D"],
    "correct_answer": "A",
    "explanation": "Explanation here"
  }
]`, numQuestions, label, truncateContent(content, 4000))

	text, err := c.GenerateChat(ctx, []services.ChatMessage{{Role: "user", Content: prompt}}, "", 0.7, 2000)
	if err != nil {
		return nil, err
	}

	var questions []services.QuizQuestion
	jsonStr := extractJSONPayload(text)
	if err := json.Unmarshal([]byte(jsonStr), &questions); err != nil {
		// A single object instead of an array still counts.
		var one services.QuizQuestion
		if err2 := json.Unmarshal([]byte(jsonStr), &one); err2 == nil && one.Question != "" {
			return []services.QuizQuestion{one}, nil
		}
		log.Warn().Str("payload", truncateForLog(text, 200)).Msg("quiz response was not valid JSON")
		return []services.QuizQuestion{}, nil
	}

	for _, q := range questions {
		if q.Question == "" || len(q.Options) == 0 || q.CorrectAnswer == "" {
			log.Warn().Interface("question", q).Msg("generated quiz question is incomplete")
		}
	}
	return questions, nil
}

func (c *llmClient) GenerateSummary(ctx context.Context, content string, style string, maxLength int) (string, error) {
	if maxLength <= 0 {
		maxLength = 500
	}
	instruction, ok := summaryStyles[style]
	if !ok {
		instruction = "Summarize"
	}

	prompt := fmt.Sprintf(`%s the following content in approximately %d characters.

Content:
%s

Summary:`, instruction, maxLength, truncateContent(content, 6000))

	maxTokens := maxLength / 2
	if maxTokens > 1000 {
		maxTokens = 1000
	}
	summary, err := c.GenerateChat(ctx, []services.ChatMessage{{Role: "user", Content: prompt}}, "", 0.3, maxTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

func (c *llmClient) GenerateStudyGuide(ctx context.Context, content string, topic string, format string) (string, error) {
	instruction, ok := studyGuideFormats[format]
	if !ok {
		instruction = studyGuideFormats["structured"]
	}

	topicPart := ""
	if topic != "" {
		topicPart = fmt.Sprintf(" about '%s'", topic)
	}

	prompt := fmt.Sprintf(`Create a %s study guide%s based on the following content.

Content:
%s

Study Guide:`, instruction, topicPart, truncateContent(content, 8000))

	guide, err := c.GenerateChat(ctx, []services.ChatMessage{{Role: "user", Content: prompt}}, "", 0.5, 4000)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(guide), nil
}

func (c *llmClient) GenerateMindmap(ctx context.Context, content string, format string) (map[string]any, error) {
	instruction, ok := mindmapFormats[format]
	if !ok {
		format = "json"
		instruction = mindmapFormats["json"]
	}

	prompt := fmt.Sprintf(`Analyze the following content and create a mindmap in %s format.

Content:
%s

%s.

Return only the %s output, no additional explanation.`, format, truncateContent(content, 6000), instruction, format)

	text, err := c.GenerateChat(ctx, []services.ChatMessage{{Role: "user", Content: prompt}}, "", 0.6, 2000)
	if err != nil {
		return nil, err
	}

	if format != "json" {
		return map[string]any{"content": strings.TrimSpace(text)}, nil
	}

	var mindmap map[string]any
	if err := json.Unmarshal([]byte(extractJSONPayload(text)), &mindmap); err != nil {
		log.Warn().Str("payload", truncateForLog(text, 200)).Msg("mindmap response was not valid JSON")
		return map[string]any{
			"root": map[string]any{
				"id":       "root",
				"label":    "Content Analysis",
				"children": []any{},
			},
		}, nil
	}
	return mindmap, nil
}

func (c *llmClient) HealthCheck(ctx context.Context) error {
	reply, err := c.GenerateChat(ctx, []services.ChatMessage{
		{Role: "user", Content: "Say 'OK' if you can read this."},
	}, "", 0.7, 10)
	if err != nil {
		return err
	}
	if strings.TrimSpace(reply) == "" {
		return apperrors.NewExternalService("llm", "health check returned an empty reply")
	}
	return nil
}

// chatCacheKey hashes the full request shape with a stable field order so
// equal requests collide and everything else does not.
func chatCacheKey(messages []services.ChatMessage, model string, temperature float64, maxTokens int) string {
	payload, _ := json.Marshal(struct {
		MaxTokens   int                    `json:"max_tokens"`
		Messages    []services.ChatMessage `json:"messages"`
		Model       string                 `json:"model"`
		Temperature float64                `json:"temperature"`
	}{maxTokens, messages, model, temperature})
	return fmt.Sprintf("llm:chat:%x", md5.Sum(payload))
}

func embedCacheKey(model, text string) string {
	return fmt.Sprintf("embed:%s:%x", model, md5.Sum([]byte(text)))
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// extractJSONPayload strips a markdown code fence when the model wraps its
// JSON in one.
func extractJSONPayload(text string) string {
	trimmed := strings.TrimSpace(text)
	if idx := strings.Index(trimmed, "```json"); idx >= 0 {
		rest := trimmed[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	if idx := strings.Index(trimmed, "```"); idx >= 0 {
		rest := trimmed[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	return trimmed
}

// truncateContent caps prompt content on a rune boundary.
func truncateContent(content string, maxRunes int) string {
	runes := []rune(content)
	if len(runes) <= maxRunes {
		return content
	}
	return string(runes[:maxRunes])
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
