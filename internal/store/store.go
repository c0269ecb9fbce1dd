// Package store holds the domain-partitioned vector index backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/katakuxiko/smeplug/internal/model"
)

// Ошибки записи в индекс
var (
	ErrDimensionMismatch = errors.New("store: vector dimension mismatch")
	ErrLengthMismatch    = errors.New("store: chunks and vectors length mismatch")
)

// Filter restricts a search by metadata equality. An empty Domain means no filter.
type Filter struct {
	Domain string
}

// ForDomain builds the filter for a requested domain; the "none" sentinel yields no filter.
func ForDomain(domain string) Filter {
	if d := model.NormalizeDomain(domain); d != model.NoDomain {
		return Filter{Domain: d}
	}
	return Filter{}
}

// Index is a persistent collection of (vector, chunk) records safe for concurrent reads.
type Index interface {
	Add(ctx context.Context, chunks []model.Chunk, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int, filter Filter) ([]model.ScoredChunk, error)
	Domains(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Close() error
}

// Optimizer is implemented by backends that keep an approximate index which
// should be rebuilt after a bulk load.
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// Options selects and configures a backend.
type Options struct {
	Backend    string // sqlite, postgres or memory
	PgConn     string
	SQLitePath string
	Collection string
	Dimension  int // postgres only; 0 leaves the column untyped
}

// Open creates the configured index. Failure here is fatal for the server.
func Open(ctx context.Context, opts Options, log *zap.Logger) (Index, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("backend", opts.Backend))
	var (
		idx Index
		err error
	)
	switch opts.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		idx, err = OpenSQLite(ctx, opts.SQLitePath, opts.Collection, log)
	case "postgres":
		idx, err = NewPgStore(ctx, opts.PgConn, opts.Collection, opts.Dimension, log)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func checkBatch(chunks []model.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return ErrLengthMismatch
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("store: empty vector for chunk %q", chunks[i].ID)
		}
	}
	return nil
}

// checkDimensions requires every vector to have dim components. dim 0 means
// the index is empty and the first vector sets it.
func checkDimensions(chunks []model.Chunk, vectors [][]float32, dim int) error {
	if len(vectors) == 0 {
		return nil
	}
	if dim == 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: chunk %q has %d, index has %d", ErrDimensionMismatch, chunks[i].ID, len(v), dim)
		}
	}
	return nil
}

// rank sorts by ascending distance and keeps the k closest.
func rank(res []model.ScoredChunk, k int) []model.ScoredChunk {
	sort.SliceStable(res, func(i, j int) bool { return res[i].Distance < res[j].Distance })
	if k > 0 && len(res) > k {
		res = res[:k]
	}
	return res
}
