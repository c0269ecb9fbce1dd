package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/katakuxiko/smeplug/internal/config"
	"github.com/katakuxiko/smeplug/internal/rag"
)

func fakeOpenAI(t *testing.T) (*httptest.Server, *openai.ChatCompletionRequest) {
	t.Helper()
	var lastChat openai.ChatCompletionRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&lastChat))
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "  grounded answer \n"}}},
		})
	})
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := openai.EmbeddingResponse{}
		// reversed order; the client must put vectors back by index
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, openai.Embedding{Index: i, Embedding: []float32{float32(i), 1}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openai.ModelsList{Models: []openai.Model{{ID: "google/gemma-3n-e4b"}}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &lastChat
}

func TestLLMClientAgainstCompatibleServer(t *testing.T) {
	srv, lastChat := fakeOpenAI(t)
	c, err := NewLLMClient(OpenAIOptions{
		Provider:   "lmstudio",
		BaseURL:    srv.URL + "/v1",
		ChatModel:  "google/gemma-3n-e4b",
		EmbedModel: "nomic",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	answer, err := c.Generate(ctx, rag.Prompt{System: "sys", User: "usr", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "grounded answer", answer)
	require.Len(t, lastChat.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, lastChat.Messages[0].Role)
	assert.Equal(t, "usr", lastChat.Messages[1].Content)
	require.NotNil(t, lastChat.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, lastChat.ResponseFormat.Type)

	vecs, err := c.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}, {2, 1}}, vecs)

	models, err := c.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "google/gemma-3n-e4b", models[0].ID)
	assert.Equal(t, "lmstudio:google/gemma-3n-e4b", c.Name())
}

func TestProviderSelection(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	cfg := config.Default()
	cfg.OpenAIKey = ""
	_, err := NewGenerator(ctx, cfg, log)
	assert.Error(t, err, "openai needs a key")

	cfg.LLMProvider = "lmstudio"
	gen, err := NewGenerator(ctx, cfg, log)
	require.NoError(t, err)
	assert.IsType(t, &LLMClient{}, gen)

	cfg.LLMProvider = "gemini"
	_, err = NewGenerator(ctx, cfg, log)
	assert.Error(t, err, "gemini needs GOOGLE_API_KEY")

	cfg.LLMProvider = "cohere"
	_, err = NewGenerator(ctx, cfg, log)
	assert.Error(t, err)

	cfg.EmbedProvider = "lmstudio"
	emb, err := NewEmbedder(ctx, cfg, log)
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-nomic-embed-text-v1.5", emb.(*LLMClient).embedName)
}

func TestEmbedModelDefaults(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "text-embedding-3-small", embedModel(cfg, "openai"))
	assert.Equal(t, "gemini-embedding-001", embedModel(cfg, "gemini"))

	cfg.EmbedModel = "text-embedding-3-large"
	assert.Equal(t, "text-embedding-3-large", embedModel(cfg, "openai"))
	assert.Equal(t, "gemini-embedding-001", embedModel(cfg, "gemini"))
}

func TestLLMClientHealthCheck(t *testing.T) {
	srv, _ := fakeOpenAI(t)
	ctx := context.Background()

	c, err := NewLLMClient(OpenAIOptions{Provider: "lmstudio", BaseURL: srv.URL + "/v1", EmbedModel: "nomic"}, nil)
	require.NoError(t, err)
	assert.NoError(t, c.HealthCheck(ctx))

	down, err := NewLLMClient(OpenAIOptions{Provider: "lmstudio", BaseURL: "http://127.0.0.1:1/v1", EmbedModel: "nomic"}, nil)
	require.NoError(t, err)
	err = down.HealthCheck(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lmstudio embeddings unreachable")

	assert.Error(t, checkVector("lmstudio", nil))
}
