package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/katakuxiko/smeplug/internal/rag"
)

// GeminiClient generates and embeds with the Google Gemini API.
type GeminiClient struct {
	client     *genai.Client
	chatModel  string
	embedModel string
	timeout    time.Duration
	log        *zap.Logger
}

// NewGeminiClient создаёт клиент Google GenAI
func NewGeminiClient(ctx context.Context, apiKey, chatModel, embedModel string, timeout time.Duration, log *zap.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is not set but gemini is selected")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if embedModel == "" {
		embedModel = "gemini-embedding-001"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{
		client:     client,
		chatModel:  chatModel,
		embedModel: embedModel,
		timeout:    timeout,
		log:        log.Named("gemini"),
	}, nil
}

func (g *GeminiClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// Generate выполняет запрос к модели Gemini
func (g *GeminiClient) Generate(ctx context.Context, p rag.Prompt) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
		Temperature:       genai.Ptr(p.Temperature),
	}
	if p.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.chatModel, genai.Text(p.User), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// Embed embeds a query.
func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := g.embed(ctx, []string{text}, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds corpus chunks.
func (g *GeminiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return g.embed(ctx, texts, "RETRIEVAL_DOCUMENT")
}

func (g *GeminiClient) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	res, err := g.client.Models.EmbedContent(ctx, g.embedModel, contents, &genai.EmbedContentConfig{TaskType: task})
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("GenAI returned %d embeddings for %d inputs", len(res.Embeddings), len(texts))
	}
	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// HealthCheck встраивает короткую строку через Gemini
func (g *GeminiClient) HealthCheck(ctx context.Context) error {
	vec, err := g.Embed(ctx, healthCheckText)
	if err != nil {
		return fmt.Errorf("gemini embeddings unreachable: %w", err)
	}
	return checkVector("gemini", vec)
}

// Name возвращает имя модели Gemini
func (g *GeminiClient) Name() string { return "gemini:" + g.chatModel }
