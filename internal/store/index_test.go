package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/katakuxiko/smeplug/internal/model"
)

func chunk(id, domain, doc string, page int) model.Chunk {
	return model.Chunk{
		ID:   id,
		Text: "text of " + id,
		Metadata: model.Metadata{
			DocName:    doc,
			PageNumber: model.Page(page),
			Domain:     domain,
			SourcePath: "DATA/" + domain + "/" + doc + ".pdf",
		},
	}
}

func seed(t *testing.T, idx Index) {
	t.Helper()
	chunks := []model.Chunk{
		chunk("a1", "A", "alpha", 1),
		chunk("a2", "A", "alpha", 2),
		chunk("b1", "B", "beta", 1),
		chunk("b2", "B", "beta", 5),
	}
	vectors := [][]float32{
		{1, 0, 0},
		{0.8, 0.2, 0},
		{0.99, 0.01, 0},
		{0, 0, 1},
	}
	require.NoError(t, idx.Add(context.Background(), chunks, vectors))
}

func backends(t *testing.T) map[string]Index {
	t.Helper()
	sq, err := OpenSQLite(context.Background(), ":memory:", "test_chunks", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Index{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestIndexDomainIsolation(t *testing.T) {
	ctx := context.Background()
	query := []float32{1, 0, 0}

	for name, idx := range backends(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, idx)

			res, err := idx.Search(ctx, query, 10, Filter{Domain: "A"})
			require.NoError(t, err)
			require.Len(t, res, 2)
			for _, r := range res {
				assert.Equal(t, "A", r.Chunk.Metadata.Domain)
			}

			all, err := idx.Search(ctx, query, 10, ForDomain("none"))
			require.NoError(t, err)
			require.Len(t, all, 4)
			domains := map[string]bool{}
			for _, r := range all {
				domains[r.Chunk.Metadata.Domain] = true
			}
			assert.True(t, domains["A"] && domains["B"])

			missing, err := idx.Search(ctx, query, 10, Filter{Domain: "C"})
			require.NoError(t, err)
			assert.Empty(t, missing)
		})
	}
}

func TestIndexOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	for name, idx := range backends(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, idx)

			res, err := idx.Search(ctx, []float32{1, 0, 0}, 3, Filter{})
			require.NoError(t, err)
			require.Len(t, res, 3)
			assert.Equal(t, "a1", res[0].Chunk.ID)
			assert.Equal(t, "b1", res[1].Chunk.ID)
			assert.Equal(t, "a2", res[2].Chunk.ID)
			for i := 1; i < len(res); i++ {
				assert.LessOrEqual(t, res[i-1].Distance, res[i].Distance)
			}
			assert.InDelta(t, 0, res[0].Distance, 1e-9)

			assert.Equal(t, "alpha", res[0].Chunk.Metadata.DocName)
			assert.Equal(t, model.Page(1), res[0].Chunk.Metadata.PageNumber)

			none, err := idx.Search(ctx, []float32{1, 0, 0}, 0, Filter{})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestIndexEmptyAndAdmin(t *testing.T) {
	ctx := context.Background()
	for name, idx := range backends(t) {
		t.Run(name, func(t *testing.T) {
			res, err := idx.Search(ctx, []float32{1, 0, 0}, 5, Filter{})
			require.NoError(t, err)
			assert.Empty(t, res)

			seed(t, idx)
			n, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			doms, err := idx.Domains(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "B"}, doms)

			err = idx.Add(ctx, []model.Chunk{chunk("x", "A", "x", 1)}, [][]float32{{1, 0}})
			assert.ErrorIs(t, err, ErrDimensionMismatch)

			err = idx.Add(ctx, []model.Chunk{chunk("y", "A", "y", 1)}, nil)
			assert.ErrorIs(t, err, ErrLengthMismatch)

			require.NoError(t, idx.Clear(ctx))
			n, err = idx.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestOpenSQLiteRejectsBadCollection(t *testing.T) {
	_, err := OpenSQLite(context.Background(), ":memory:", "drop table;", nil)
	assert.Error(t, err)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "chroma"}, nil)
	assert.Error(t, err)
}
