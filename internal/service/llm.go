package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/katakuxiko/smeplug/internal/rag"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// LLMClient — клиент для OpenAI / Groq / LM Studio совместимых моделей
type LLMClient struct {
	client    *openai.Client
	provider  string
	embedName string
	chatName  string
	timeout   time.Duration
	log       *zap.Logger
}

// OpenAIOptions — настройки LLMClient
type OpenAIOptions struct {
	Provider   string
	APIKey     string
	BaseURL    string
	ChatModel  string
	EmbedModel string
	Timeout    time.Duration
}

// NewLLMClient создаёт клиент для OpenAI-совместимого API
func NewLLMClient(opts OpenAIOptions, log *zap.Logger) (*LLMClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	key := opts.APIKey
	if key == "" {
		if opts.Provider != "lmstudio" {
			return nil, fmt.Errorf("%s API key is not set", opts.Provider)
		}
		key = "not-needed"
	}
	oaiCfg := openai.DefaultConfig(key)
	if opts.BaseURL != "" {
		oaiCfg.BaseURL = opts.BaseURL
	}
	return &LLMClient{
		client:    openai.NewClientWithConfig(oaiCfg),
		provider:  opts.Provider,
		embedName: opts.EmbedModel,
		chatName:  opts.ChatModel,
		timeout:   opts.Timeout,
		log:       log.Named(opts.Provider),
	}, nil
}

func (l *LLMClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.timeout)
}

// Embed получает embedding текста
func (l *LLMClient) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := l.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch получает embeddings пачкой, сохраняя порядок
func (l *LLMClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	resp, err := l.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(l.embedName),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding for input %d", idx)
		}
		out[idx] = d.Embedding
	}
	return out, nil
}

// Generate выполняет один запрос к чату
func (l *LLMClient) Generate(ctx context.Context, p rag.Prompt) (string, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	// go-openai drops a zero temperature from the request; the smallest positive value keeps it deterministic
	temp := p.Temperature
	if temp == 0 {
		temp = math.SmallestNonzeroFloat32
	}
	req := openai.ChatCompletionRequest{
		Model:       l.chatName,
		Temperature: temp,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
	}
	if p.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := l.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", l.provider)
	}
	l.log.Debug("chat completion",
		zap.String("model", l.chatName),
		zap.Duration("took", time.Since(start)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ListModels возвращает список моделей провайдера
func (l *LLMClient) ListModels(ctx context.Context) ([]openai.Model, error) {
	resp, err := l.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// HealthCheck встраивает короткую строку, проверяя адрес, ключ и модель
func (l *LLMClient) HealthCheck(ctx context.Context) error {
	vec, err := l.Embed(ctx, healthCheckText)
	if err != nil {
		return fmt.Errorf("%s embeddings unreachable: %w", l.provider, err)
	}
	return checkVector(l.provider, vec)
}

// Name возвращает провайдера и модель чата
func (l *LLMClient) Name() string { return l.provider + ":" + l.chatName }
