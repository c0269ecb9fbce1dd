package store

import (
	"context"
	"sort"
	"sync"

	"github.com/katakuxiko/smeplug/internal/model"
)

// MemoryStore is an in-process index using brute-force cosine distance.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	chunks    []model.Chunk
	vectors   [][]float32
}

// NewMemoryStore создаёт индекс в памяти
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Add сохраняет чанки и векторы
func (s *MemoryStore) Add(_ context.Context, chunks []model.Chunk, vectors [][]float32) error {
	if err := checkBatch(chunks, vectors); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dim := s.dimension
	for _, v := range vectors {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return ErrDimensionMismatch
		}
	}
	s.dimension = dim
	s.chunks = append(s.chunks, chunks...)
	for _, v := range vectors {
		s.vectors = append(s.vectors, append([]float32(nil), v...))
	}
	return nil
}

// Search перебирает все векторы домена
func (s *MemoryStore) Search(_ context.Context, query []float32, k int, filter Filter) ([]model.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 || len(s.chunks) == 0 {
		return nil, nil
	}
	res := make([]model.ScoredChunk, 0, len(s.chunks))
	for i, ch := range s.chunks {
		if filter.Domain != "" && ch.Metadata.Domain != filter.Domain {
			continue
		}
		d, err := CosineDistance(query, s.vectors[i])
		if err != nil {
			continue
		}
		res = append(res, model.ScoredChunk{Chunk: ch, Distance: d})
	}
	return rank(res, k), nil
}

// Domains возвращает список доменов
func (s *MemoryStore) Domains(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []string
	for _, ch := range s.chunks {
		d := ch.Metadata.Domain
		if _, ok := seen[d]; ok || d == "" {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

// Count возвращает число чанков
func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// Clear удаляет все чанки
func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.vectors = nil
	s.dimension = 0
	return nil
}

// Close ничего не делает
func (s *MemoryStore) Close() error { return nil }

var _ Index = (*MemoryStore)(nil)
