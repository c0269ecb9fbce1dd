package rag

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/katakuxiko/smeplug/internal/model"
	"github.com/katakuxiko/smeplug/internal/store"
)

// Retriever fetches the k chunks nearest to a question, optionally within one domain.
type Retriever struct {
	embedder Embedder
	index    Searcher
	k        int
	log      *zap.Logger
}

// NewRetriever создаёт шаг поиска чанков
func NewRetriever(e Embedder, idx Searcher, k int, log *zap.Logger) *Retriever {
	if k <= 0 {
		k = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{embedder: e, index: idx, k: k, log: log.Named("retrieve")}
}

// Name возвращает имя шага
func (r *Retriever) Name() string { return StageRetrieve }

// Retrieve never fails: an unreachable index or embedder is treated as no evidence.
// The result is ascending by distance, at most k long, and only holds chunks of
// the requested domain unless domain is the "none" sentinel.
func (r *Retriever) Retrieve(ctx context.Context, question, domain string) ([]model.ScoredChunk, string) {
	filter := store.ForDomain(domain)
	scope := ""
	if filter.Domain != "" {
		scope = fmt.Sprintf(" from %s corpus", filter.Domain)
	}

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		r.log.Warn("query embedding failed", zap.String("domain", domain), zap.Error(err))
		return nil, fmt.Sprintf("Retrieved 0 chunks%s (embedding unavailable)", scope)
	}
	found, err := r.index.Search(ctx, vec, r.k, filter)
	if err != nil {
		r.log.Warn("index search failed", zap.String("domain", domain), zap.Error(err))
		return nil, fmt.Sprintf("Retrieved 0 chunks%s (index unavailable)", scope)
	}

	out := make([]model.ScoredChunk, 0, len(found))
	for _, sc := range found {
		if filter.Domain != "" && sc.Chunk.Metadata.Domain != filter.Domain {
			r.log.Error("index returned chunk outside requested domain",
				zap.String("want", filter.Domain),
				zap.String("got", sc.Chunk.Metadata.Domain),
				zap.String("chunk", sc.Chunk.ID))
			continue
		}
		out = append(out, sc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > r.k {
		out = out[:r.k]
	}

	r.log.Debug("retrieved", zap.Int("count", len(out)), zap.String("domain", domain))
	return out, fmt.Sprintf("Retrieved %d chunks%s", len(out), scope)
}

// Run ищет чанки по вопросу и домену
func (r *Retriever) Run(ctx context.Context, st QueryState) (Delta, error) {
	chunks, detail := r.Retrieve(ctx, st.Question, st.Domain)
	return Delta{
		Retrieval: &Retrieval{Chunks: chunks},
		Status:    StatusOK,
		Detail:    detail,
	}, nil
}
