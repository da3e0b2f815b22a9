package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindspring-backend/config"
	"github.com/mindspring-backend/services"
)

// fakeUpstream fakes the OpenAI-compatible chat and embedding endpoints and
// records what it was asked.
type fakeUpstream struct {
	mu             sync.Mutex
	chatCalls      int32
	embedCalls     int32
	embedInputs    [][]string
	chatReply      string
	embedBareArray bool
	failStatuses   []int
	failIndex      int
}

func (f *fakeUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.chatCalls, 1)
		if status, ok := f.nextFailure(); ok {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":"forced"}`)
			return
		}
		reply := f.chatReply
		if reply == "" {
			reply = "upstream reply"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": reply}},
			},
		})
	})
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.embedCalls, 1)
		if status, ok := f.nextFailure(); ok {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":"forced"}`)
			return
		}

		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.embedInputs = append(f.embedInputs, req.Input)
		f.mu.Unlock()

		items := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			items[i] = map[string]any{"embedding": []float32{float32(len(text)), 1, 0}}
		}
		if f.embedBareArray {
			json.NewEncoder(w).Encode(items)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": items})
	})
	return mux
}

func (f *fakeUpstream) nextFailure() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIndex < len(f.failStatuses) {
		status := f.failStatuses[f.failIndex]
		f.failIndex++
		return status, true
	}
	return 0, false
}

func (f *fakeUpstream) uniqueEmbeddedTexts() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]int{}
	for _, batch := range f.embedInputs {
		for _, text := range batch {
			seen[text]++
		}
	}
	return seen
}

func newTestLLMClient(t *testing.T, upstream *fakeUpstream) (services.LLMClient, *fakeUpstream, func()) {
	t.Helper()
	server := httptest.NewServer(upstream.handler())

	_, redisClient, cleanupRedis := setupTestRedis(t)
	cache := NewRedisCacheProvider(redisClient)

	cfg := &config.Config{}
	cfg.LLM.BaseURL = server.URL
	cfg.LLM.APIKey = "test-key"
	cfg.LLM.Model = "test-model"
	cfg.LLM.TimeoutSeconds = 5
	cfg.LLM.MaxRetries = 3
	cfg.LLM.ChatCacheTTLSeconds = 600
	cfg.Embedding.Endpoint = server.URL + "/embeddings"
	cfg.Embedding.Model = "test-embed"
	cfg.Embedding.BatchSize = 2
	cfg.Embedding.MaxConcurrentBatches = 3
	cfg.Embedding.CacheTTLSeconds = 86400

	client := NewLLMClient(cfg, cache)
	cleanup := func() {
		server.Close()
		cleanupRedis()
	}
	return client, upstream, cleanup
}

func TestLLMClient_ChatCachesLowTemperature(t *testing.T) {
	client, upstream, cleanup := newTestLLMClient(t, &fakeUpstream{chatReply: "cached reply"})
	defer cleanup()
	ctx := context.Background()

	messages := []services.ChatMessage{{Role: "user", Content: "hello"}}

	first, err := client.GenerateChat(ctx, messages, "", 0.7, 100)
	require.NoError(t, err)
	second, err := client.GenerateChat(ctx, messages, "", 0.7, 100)
	require.NoError(t, err)

	assert.Equal(t, "cached reply", first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&upstream.chatCalls))
}

func TestLLMClient_ChatSkipsCacheAboveTemperatureGate(t *testing.T) {
	client, upstream, cleanup := newTestLLMClient(t, &fakeUpstream{})
	defer cleanup()
	ctx := context.Background()

	messages := []services.ChatMessage{{Role: "user", Content: "hello"}}

	_, err := client.GenerateChat(ctx, messages, "", 0.9, 100)
	require.NoError(t, err)
	_, err = client.GenerateChat(ctx, messages, "", 0.9, 100)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&upstream.chatCalls))
}

func TestLLMClient_ChatCacheKeyVariesWithParameters(t *testing.T) {
	client, upstream, cleanup := newTestLLMClient(t, &fakeUpstream{})
	defer cleanup()
	ctx := context.Background()

	messages := []services.ChatMessage{{Role: "user", Content: "hello"}}

	_, err := client.GenerateChat(ctx, messages, "", 0.7, 100)
	require.NoError(t, err)
	_, err = client.GenerateChat(ctx, messages, "", 0.7, 200)
	require.NoError(t, err)
	_, err = client.GenerateChat(ctx, messages, "be terse", 0.7, 100)
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&upstream.chatCalls))
}

func TestLLMClient_EmbeddingsDeduplicateAndCache(t *testing.T) {
	client, upstream, cleanup := newTestLLMClient(t, &fakeUpstream{})
	defer cleanup()
	ctx := context.Background()

	vecs, err := client.GenerateEmbeddings(ctx, []string{"X.", "X.", "Y."})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	// Duplicates share one upstream embedding.
	assert.Equal(t, vecs[0], vecs[1])
	assert.NotEqual(t, vecs[0], vecs[2])

	unique := upstream.uniqueEmbeddedTexts()
	assert.Equal(t, 1, unique["X."])
	assert.Equal(t, 1, unique["Y."])

	// Second identical run is fully served from cache.
	before := atomic.LoadInt32(&upstream.embedCalls)
	again, err := client.GenerateEmbeddings(ctx, []string{"X.", "X.", "Y."})
	require.NoError(t, err)
	assert.Equal(t, vecs, again)
	assert.Equal(t, before, atomic.LoadInt32(&upstream.embedCalls))
}

func TestLLMClient_EmbeddingsPreserveInputOrderAcrossBatches(t *testing.T) {
	client, _, cleanup := newTestLLMClient(t, &fakeUpstream{})
	defer cleanup()

	// Batch size is 2, so five texts fan out over three batches.
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := client.GenerateEmbeddings(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vecs[i][0], "vector %d should match text length", i)
	}
}

func TestLLMClient_EmbeddingsRetryTransientErrors(t *testing.T) {
	client, upstream, cleanup := newTestLLMClient(t, &fakeUpstream{failStatuses: []int{503}})
	defer cleanup()

	vecs, err := client.GenerateEmbeddings(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&upstream.embedCalls))
}

func TestLLMClient_EmbeddingsFailFastOnAuthError(t *testing.T) {
	client, upstream, cleanup := newTestLLMClient(t, &fakeUpstream{failStatuses: []int{401}})
	defer cleanup()

	_, err := client.GenerateEmbeddings(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication")
	assert.Equal(t, int32(1), atomic.LoadInt32(&upstream.embedCalls))
}

func TestLLMClient_EmbeddingsAcceptBareArrayResponse(t *testing.T) {
	client, _, cleanup := newTestLLMClient(t, &fakeUpstream{embedBareArray: true})
	defer cleanup()

	vecs, err := client.GenerateEmbeddings(context.Background(), []string{"hi"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, []float32{2, 1, 0}, vecs[0])
}

func TestLLMClient_EmbeddingsEmptyInput(t *testing.T) {
	client, upstream, cleanup := newTestLLMClient(t, &fakeUpstream{})
	defer cleanup()

	vecs, err := client.GenerateEmbeddings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Equal(t, int32(0), atomic.LoadInt32(&upstream.embedCalls))
}

func TestLLMClient_GenerateQuizParsesFencedJSON(t *testing.T) {
	reply := "```json\n[{\"question\":\"Q1?\",\"options\":[\"A\",\"B\",\"C\",\"D\"],\"correct_answer\":\"B\",\"explanation\":\"because\"}]\n```"
	client, _, cleanup := newTestLLMClient(t, &fakeUpstream{chatReply: reply})
	defer cleanup()

	questions, err := client.GenerateQuiz(context.Background(), "some content", 1, "novice")
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, "Q1?", questions[0].Question)
	assert.Equal(t, "B", questions[0].CorrectAnswer)
}

func TestLLMClient_GenerateQuizMalformedJSONDegradesToEmpty(t *testing.T) {
	client, _, cleanup := newTestLLMClient(t, &fakeUpstream{chatReply: "I cannot answer that."})
	defer cleanup()

	questions, err := client.GenerateQuiz(context.Background(), "some content", 3, "medium")
	require.NoError(t, err)
	assert.Empty(t, questions)
}

func TestLLMClient_GenerateMindmapFallsBackOnParseFailure(t *testing.T) {
	client, _, cleanup := newTestLLMClient(t, &fakeUpstream{chatReply: "not json at all"})
	defer cleanup()

	mindmap, err := client.GenerateMindmap(context.Background(), "content", "json")
	require.NoError(t, err)

	root, ok := mindmap["root"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Content Analysis", root["label"])
}

func TestLLMClient_GenerateMindmapMermaidReturnsContent(t *testing.T) {
	client, _, cleanup := newTestLLMClient(t, &fakeUpstream{chatReply: "graph TD; A-->B"})
	defer cleanup()

	mindmap, err := client.GenerateMindmap(context.Background(), "content", "mermaid")
	require.NoError(t, err)
	assert.Equal(t, "graph TD; A-->B", mindmap["content"])
}

func TestLLMClient_HealthCheck(t *testing.T) {
	client, _, cleanup := newTestLLMClient(t, &fakeUpstream{chatReply: "OK"})
	defer cleanup()

	assert.NoError(t, client.HealthCheck(context.Background()))
}

func TestMockLLMClient_DeterministicEmbeddings(t *testing.T) {
	client := NewMockLLMClient(64)
	ctx := context.Background()

	first, err := client.GenerateEmbeddings(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	second, err := client.GenerateEmbeddings(ctx, []string{"alpha"})
	require.NoError(t, err)

	assert.Equal(t, first[0], second[0])
	assert.NotEqual(t, first[0], first[1])
	assert.InDelta(t, 1.0, cosineSimilarity(first[0], second[0]), 1e-6)
}

func TestExtractJSONPayload(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSONPayload("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, extractJSONPayload("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, extractJSONPayload(`{"a":1}`))
	assert.Equal(t, `[1,2]`, extractJSONPayload("Sure, here you go:\n```json\n[1,2]\n```\nEnjoy!"))
}
