package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/katakuxiko/smeplug/internal/logging"
	"github.com/katakuxiko/smeplug/internal/model"
	"github.com/katakuxiko/smeplug/internal/rag"
	"github.com/katakuxiko/smeplug/internal/store"
)

const baseModelSystem = "You are a helpful general-purpose AI assistant."

// RAGService answers questions through the grounded pipeline, or straight from
// the base model when asked to.
type RAGService struct {
	pipeline *rag.Pipeline
	gen      rag.Generator
	log      *zap.Logger
}

// RAGOptions carries the retrieval knobs from the config.
type RAGOptions struct {
	TopK      int
	Threshold float64
}

// NewRAGService собирает конвейер поиска и генерации
func NewRAGService(idx store.Index, emb rag.Embedder, gen rag.Generator, personas rag.PersonaSource, opts RAGOptions, log *zap.Logger) *RAGService {
	if log == nil {
		log = zap.NewNop()
	}
	p := rag.NewPipeline(
		rag.NewRetriever(emb, idx, opts.TopK, log),
		rag.NewVerifier(opts.Threshold),
		rag.NewComposer(gen, personas, log),
		log,
	)
	return &RAGService{pipeline: p, gen: gen, log: log.Named("rag")}
}

// Ask runs one grounded request. The state is returned alongside a
// *rag.GenerationError so callers can still log the trace.
func (s *RAGService) Ask(ctx context.Context, req model.AskRequest) (*rag.QueryState, error) {
	return s.pipeline.Run(ctx, req.Question, req.Selected())
}

// AskBase answers without retrieval, grounding rules or persona.
func (s *RAGService) AskBase(ctx context.Context, question string) (model.AskResponse, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return model.AskResponse{}, rag.ErrEmptyQuestion
	}
	answer, err := s.gen.Generate(ctx, rag.Prompt{System: baseModelSystem, User: question, Temperature: 0.7})
	if err == nil && strings.TrimSpace(answer) == "" {
		err = rag.ErrEmptyCompletion
	}
	if err != nil {
		s.log.Error("base model failed", logging.Preview(question), zap.Error(err))
		return model.AskResponse{}, &rag.GenerationError{Err: err}
	}
	return model.AskResponse{
		Answer:    strings.TrimSpace(answer),
		Citations: []string{},
		Steps:     []model.StepLog{{Node: "routing", Status: rag.StatusOK, Detail: "Base Model Only"}},
	}, nil
}
