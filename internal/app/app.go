// Package app wires configuration into the index, model clients and services.
package app

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/katakuxiko/smeplug/internal/api"
	"github.com/katakuxiko/smeplug/internal/config"
	"github.com/katakuxiko/smeplug/internal/expert"
	"github.com/katakuxiko/smeplug/internal/ingest"
	"github.com/katakuxiko/smeplug/internal/rag"
	"github.com/katakuxiko/smeplug/internal/service"
	"github.com/katakuxiko/smeplug/internal/store"
)

// App owns the long-lived collaborators. The index is opened once and shared.
type App struct {
	Cfg      *config.Config
	Index    store.Index
	Embedder service.Embedder
	Gen      rag.Generator
	Roles    *expert.Resolver
	RAG      *service.RAGService
	Experts  *service.ExpertService
	Ingest   *ingest.Runner
	Log      *zap.Logger
}

// Build opens the index and the model clients and checks that the embedding
// provider answers. Any failure is a configuration failure and the caller should exit.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	idx, err := store.Open(ctx, store.Options{
		Backend:    cfg.VectorStore,
		PgConn:     cfg.PgConn,
		SQLitePath: cfg.SQLitePath,
		Collection: cfg.Collection,
		Dimension:  cfg.EmbedDim,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}

	a, err := assemble(ctx, cfg, idx, log)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	return a, nil
}

func assemble(ctx context.Context, cfg *config.Config, idx store.Index, log *zap.Logger) (*App, error) {
	emb, err := service.NewEmbedder(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	if err := emb.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	gen, err := service.NewGenerator(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("LLM provider: %w", err)
	}
	custom, err := expert.LoadCustom(cfg.CustomRolesFile, log)
	if err != nil {
		return nil, err
	}
	roles := expert.NewResolver(custom)

	return &App{
		Cfg:      cfg,
		Index:    idx,
		Embedder: emb,
		Gen:      gen,
		Roles:    roles,
		RAG: service.NewRAGService(idx, emb, gen, roles, service.RAGOptions{
			TopK:      cfg.TopK,
			Threshold: cfg.SimilarityThreshold,
		}, log),
		Experts: service.NewExpertService(roles, gen, log),
		Ingest: ingest.NewRunner(idx, emb, ingest.Options{
			ChunkSize:    cfg.ChunkSize,
			ChunkOverlap: cfg.ChunkOverlap,
			Workers:      cfg.IngestWorkers,

			RequestsPerSecond: cfg.EmbedRPS,
		}, log),
		Log: log,
	}, nil
}

// HTTP builds the fiber app serving this App.
func (a *App) HTTP() *fiber.App {
	models, _ := a.Gen.(service.ModelLister)
	return api.New(api.Deps{
		RAG:         a.RAG,
		Experts:     a.Experts,
		Index:       a.Index,
		Ingest:      a.Ingest,
		Models:      models,
		Provider:    a.Cfg.LLMProvider,
		VectorStore: a.Cfg.VectorStore,
		UploadDir:   a.Cfg.PDFSourceDir,
		Log:         a.Log,
	})
}

// Close закрывает индекс
func (a *App) Close() error {
	return a.Index.Close()
}
