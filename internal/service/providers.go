package service

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/katakuxiko/smeplug/internal/config"
	"github.com/katakuxiko/smeplug/internal/rag"
)

// Embedder embeds queries one at a time and corpus chunks in batches.
type Embedder interface {
	rag.Embedder
	HealthChecker
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// HealthChecker — проверка доступности провайдера до приёма запросов
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

const healthCheckText = "health check"

// checkVector validates the reply to a health check.
func checkVector(name string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%s returned an empty embedding", name)
	}
	return nil
}

// ModelLister is implemented by providers that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]openai.Model, error)
}

// NewGenerator builds the chat collaborator selected by LLM_PROVIDER.
func NewGenerator(ctx context.Context, cfg *config.Config, log *zap.Logger) (rag.Generator, error) {
	var opts OpenAIOptions
	switch cfg.LLMProvider {
	case "openai":
		opts = OpenAIOptions{APIKey: cfg.OpenAIKey, BaseURL: cfg.OpenAIBaseURL, ChatModel: cfg.OpenAIModel}
	case "groq":
		opts = OpenAIOptions{APIKey: cfg.GroqKey, BaseURL: groqBaseURL, ChatModel: cfg.GroqModel}
	case "lmstudio":
		opts = OpenAIOptions{BaseURL: cfg.LMBaseURL, ChatModel: cfg.ChatModel}
	case "gemini":
		g, err := NewGeminiClient(ctx, cfg.GoogleKey, cfg.GeminiModel, embedModel(cfg, "gemini"), cfg.GenerationTimeout, log)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.LLMProvider)
	}
	opts.Provider = cfg.LLMProvider
	opts.EmbedModel = embedModel(cfg, cfg.EmbedProvider)
	opts.Timeout = cfg.GenerationTimeout
	c, err := NewLLMClient(opts, log)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewEmbedder builds the embedding provider selected by EMBED_PROVIDER.
func NewEmbedder(ctx context.Context, cfg *config.Config, log *zap.Logger) (Embedder, error) {
	var opts OpenAIOptions
	switch cfg.EmbedProvider {
	case "openai":
		opts = OpenAIOptions{APIKey: cfg.OpenAIKey, BaseURL: cfg.OpenAIBaseURL}
	case "lmstudio":
		opts = OpenAIOptions{BaseURL: cfg.LMBaseURL}
	case "gemini":
		g, err := NewGeminiClient(ctx, cfg.GoogleKey, cfg.GeminiModel, embedModel(cfg, "gemini"), cfg.GenerationTimeout, log)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.EmbedProvider)
	}
	opts.Provider = cfg.EmbedProvider
	opts.EmbedModel = embedModel(cfg, cfg.EmbedProvider)
	opts.Timeout = cfg.GenerationTimeout
	c, err := NewLLMClient(opts, log)
	if err != nil {
		return nil, err
	}
	return c, nil
}

var defaultEmbedModels = map[string]string{
	"openai":   "text-embedding-3-small",
	"lmstudio": "text-embedding-nomic-embed-text-v1.5",
	"gemini":   "gemini-embedding-001",
}

// embedModel returns EMBED_MODEL when it belongs to provider, else the provider default.
func embedModel(cfg *config.Config, provider string) string {
	if cfg.EmbedModel != "" && cfg.EmbedProvider == provider {
		return cfg.EmbedModel
	}
	return defaultEmbedModels[provider]
}
