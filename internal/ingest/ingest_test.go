package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/katakuxiko/smeplug/internal/pdf"
	"github.com/katakuxiko/smeplug/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingEmbedder struct {
	calls atomic.Int32
	err   error
}

func (e *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{1, float32(len(t) % 7)}
	}
	return out, nil
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))
}

// corpus lays out DATA/<domain>/... and returns its root.
func corpus(t *testing.T) string {
	root := t.TempDir()
	touch(t, filepath.Join(root, "Cyber", "NIST.pdf"))
	touch(t, filepath.Join(root, "Cyber", "nested", "ISO27001.PDF"))
	touch(t, filepath.Join(root, "Agri", "Soil.pdf"))
	touch(t, filepath.Join(root, "Agri", "broken.pdf"))
	touch(t, filepath.Join(root, "Empty", "readme.txt"))
	touch(t, filepath.Join(root, "none", "ignored.pdf"))
	touch(t, filepath.Join(root, "loose.pdf"))
	return root
}

func fakeExtract(path string) ([]pdf.Page, error) {
	switch filepath.Base(path) {
	case "broken.pdf":
		return nil, errors.New("malformed xref")
	default:
		return []pdf.Page{
			{Number: 1, Text: strings.Repeat("alpha ", 10)},
			{Number: 3, Text: strings.Repeat("beta ", 4)},
		}, nil
	}
}

func TestDiscover(t *testing.T) {
	root := corpus(t)
	got, err := Discover(root)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"Agri":  {filepath.Join(root, "Agri", "Soil.pdf"), filepath.Join(root, "Agri", "broken.pdf")},
		"Cyber": {filepath.Join(root, "Cyber", "NIST.pdf"), filepath.Join(root, "Cyber", "nested", "ISO27001.PDF")},
	}, got)

	empty, err := Discover(filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryStore()
	emb := &countingEmbedder{}
	r := NewRunner(idx, emb, Options{ChunkSize: 4, ChunkOverlap: 1, Workers: 3, BatchSize: 2}, zaptest.NewLogger(t)).
		WithExtractor(fakeExtract)

	rep, err := r.Run(ctx, corpus(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"Agri", "Cyber"}, rep.Domains)
	assert.Equal(t, 3, rep.Documents)
	require.Len(t, rep.Skipped, 1)
	assert.Contains(t, rep.Skipped[0], "broken.pdf")

	// page 1: 10 words -> 3 chunks, page 3: 4 words -> 1 chunk
	assert.Equal(t, 12, rep.Chunks)
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	domains, err := idx.Domains(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Agri", "Cyber"}, domains)

	hits, err := idx.Search(ctx, []float32{1, 0}, 20, store.ForDomain("Agri"))
	require.NoError(t, err)
	require.Len(t, hits, 4)
	for _, h := range hits {
		md := h.Chunk.Metadata
		assert.Equal(t, "Agri", md.Domain)
		assert.Equal(t, "Soil", md.DocName)
		assert.Contains(t, []int{1, 3}, int(md.PageNumber))
		assert.NotEmpty(t, h.Chunk.ID)
	}
}

// optimizingStore counts Optimize calls on top of the in-memory index.
type optimizingStore struct {
	*store.MemoryStore
	optimized int
}

func (s *optimizingStore) Optimize(context.Context) error {
	s.optimized++
	return nil
}

func TestRunOptimizesIndexAfterLoad(t *testing.T) {
	idx := &optimizingStore{MemoryStore: store.NewMemoryStore()}
	r := NewRunner(idx, &countingEmbedder{}, Options{ChunkSize: 4, Workers: 2}, nil).WithExtractor(fakeExtract)

	_, err := r.Run(context.Background(), corpus(t))
	require.NoError(t, err)
	assert.Equal(t, 1, idx.optimized)

	failing := &optimizingStore{MemoryStore: store.NewMemoryStore()}
	emb := &countingEmbedder{err: errors.New("down")}
	_, err = NewRunner(failing, emb, Options{ChunkSize: 4}, nil).WithExtractor(fakeExtract).Run(context.Background(), corpus(t))
	require.Error(t, err)
	assert.Zero(t, failing.optimized)
}

func TestRunNoDocuments(t *testing.T) {
	r := NewRunner(store.NewMemoryStore(), &countingEmbedder{}, Options{ChunkSize: 4}, nil)
	_, err := r.Run(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestRunEmbedFailureAborts(t *testing.T) {
	emb := &countingEmbedder{err: errors.New("embedding endpoint down")}
	r := NewRunner(store.NewMemoryStore(), emb, Options{ChunkSize: 4}, nil).WithExtractor(fakeExtract)
	_, err := r.Run(context.Background(), corpus(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding endpoint down")
}

func TestIngestFile(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryStore()
	r := NewRunner(idx, &countingEmbedder{}, Options{ChunkSize: 300, ChunkOverlap: 60}, nil).WithExtractor(fakeExtract)

	_, err := r.IngestFile(ctx, "/tmp/upload.pdf", " none ")
	assert.ErrorIs(t, err, ErrInvalidDomain)

	n, err := r.IngestFile(ctx, "/tmp/upload.pdf", "Legal")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = r.IngestFile(ctx, "/tmp/broken.pdf", "Legal")
	assert.True(t, IsUnreadable(err))

	blank := r.WithExtractor(func(string) ([]pdf.Page, error) { return nil, nil })
	_, err = blank.IngestFile(ctx, "/tmp/scan.pdf", "Legal")
	assert.ErrorIs(t, err, pdf.ErrNoText)
}

func TestIngestFileHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	emb := &countingEmbedder{}
	r := NewRunner(store.NewMemoryStore(), emb, Options{ChunkSize: 4, RequestsPerSecond: 1}, nil).WithExtractor(fakeExtract)

	_, err := r.IngestFile(ctx, "/tmp/doc.pdf", "Legal")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, emb.calls.Load())
}
