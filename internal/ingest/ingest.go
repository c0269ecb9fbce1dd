// Package ingest builds the domain-partitioned vector index from folders of PDFs.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/katakuxiko/smeplug/internal/model"
	"github.com/katakuxiko/smeplug/internal/pdf"
	"github.com/katakuxiko/smeplug/internal/store"
	"github.com/katakuxiko/smeplug/internal/util"
)

var (
	ErrNoDocuments   = errors.New("ingest: no PDF files found")
	ErrInvalidDomain = errors.New("ingest: a document needs a domain tag other than \"none\"")
)

const defaultBatchSize = 64

// BatchEmbedder embeds chunk texts, preserving order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Extractor returns the text pages of one document.
type Extractor func(path string) ([]pdf.Page, error)

// Options — параметры разбиения и загрузки
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	Workers      int
	BatchSize    int
	// RequestsPerSecond caps embedding calls across workers; 0 means unlimited.
	RequestsPerSecond float64
}

// Report summarizes one ingestion run.
type Report struct {
	Domains   []string `json:"domains"`
	Documents int      `json:"documents"`
	Chunks    int      `json:"chunks"`
	Skipped   []string `json:"skipped,omitempty"`
}

// Runner загружает PDF в индекс
type Runner struct {
	index   store.Index
	emb     BatchEmbedder
	extract Extractor
	limiter *rate.Limiter
	opts    Options
	log     *zap.Logger
}

// NewRunner создаёт загрузчик с ограничением скорости embeddings
func NewRunner(idx store.Index, emb BatchEmbedder, opts Options, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Runner{
		index:   idx,
		emb:     emb,
		extract: pdf.ExtractPages,
		limiter: rate.NewLimiter(limit, opts.Workers),
		opts:    opts,
		log:     log.Named("ingest"),
	}
}

// WithExtractor replaces the PDF reader.
func (r *Runner) WithExtractor(e Extractor) *Runner {
	r.extract = e
	return r
}

// Discover groups PDFs under root by their first-level folder, which names
// the domain. A missing root yields an empty map.
func Discover(root string) (map[string][]string, error) {
	out := map[string][]string{}
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("read %s: %w", root, err)
	}
	for _, e := range entries {
		if !e.IsDir() || strings.EqualFold(e.Name(), model.NoDomain) {
			continue
		}
		var files []string
		err := filepath.WalkDir(filepath.Join(root, e.Name()), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan domain %s: %w", e.Name(), err)
		}
		if len(files) > 0 {
			sort.Strings(files)
			out[e.Name()] = files
		}
	}
	return out, nil
}

// Run ingests every PDF under root. Unreadable documents are skipped and
// reported; embedding or index failures abort the run.
func (r *Runner) Run(ctx context.Context, root string) (Report, error) {
	start := time.Now()
	byDomain, err := Discover(root)
	if err != nil {
		return Report{}, err
	}
	if len(byDomain) == 0 {
		return Report{}, fmt.Errorf("%w under %s", ErrNoDocuments, root)
	}

	var (
		mu     sync.Mutex
		report Report
	)
	for domain := range byDomain {
		report.Domains = append(report.Domains, domain)
	}
	sort.Strings(report.Domains)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, domain := range report.Domains {
		r.log.Info("processing domain", zap.String("domain", domain), zap.Int("files", len(byDomain[domain])))
		for _, path := range byDomain[domain] {
			g.Go(func() error {
				n, err := r.IngestFile(gctx, path, domain)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					report.Documents++
					report.Chunks += n
					return nil
				case IsUnreadable(err):
					r.log.Warn("skipping document", zap.String("path", path), zap.Error(err))
					report.Skipped = append(report.Skipped, path)
					return nil
				default:
					return err
				}
			})
		}
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	sort.Strings(report.Skipped)

	if o, ok := r.index.(store.Optimizer); ok && report.Chunks > 0 {
		if err := o.Optimize(ctx); err != nil {
			return report, fmt.Errorf("optimize index: %w", err)
		}
	}

	r.log.Info("ingestion finished",
		zap.Strings("domains", report.Domains),
		zap.Int("documents", report.Documents),
		zap.Int("chunks", report.Chunks),
		zap.Int("skipped", len(report.Skipped)),
		zap.Duration("took", time.Since(start)))
	return report, nil
}

type extractError struct{ err error }

func (e *extractError) Error() string { return "extract: " + e.err.Error() }
func (e *extractError) Unwrap() error { return e.err }

// IsUnreadable reports whether err came from reading the document itself.
func IsUnreadable(err error) bool {
	var ee *extractError
	return errors.As(err, &ee)
}

// IngestFile chunks, embeds and indexes one document under domain and
// returns the number of chunks added.
func (r *Runner) IngestFile(ctx context.Context, path, domain string) (int, error) {
	domain = model.NormalizeDomain(domain)
	if domain == model.NoDomain {
		return 0, ErrInvalidDomain
	}
	pages, err := r.extract(path)
	if err != nil {
		return 0, &extractError{err: err}
	}

	docName := util.DocStem(path)
	var chunks []model.Chunk
	for _, p := range pages {
		for _, text := range pdf.ChunkByWords(p.Text, r.opts.ChunkSize, r.opts.ChunkOverlap) {
			chunks = append(chunks, model.Chunk{
				ID:   uuid.NewString(),
				Text: text,
				Metadata: model.Metadata{
					DocName:    docName,
					PageNumber: model.Page(p.Number),
					Domain:     domain,
					SourcePath: path,
					ChunkIndex: len(chunks),
				},
			})
		}
	}
	if len(chunks) == 0 {
		return 0, &extractError{err: pdf.ErrNoText}
	}

	for lo := 0; lo < len(chunks); lo += r.opts.BatchSize {
		if err := r.limiter.Wait(ctx); err != nil {
			return 0, err
		}
		batch := chunks[lo:min(lo+r.opts.BatchSize, len(chunks))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vecs, err := r.emb.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed %s: %w", docName, err)
		}
		if err := r.index.Add(ctx, batch, vecs); err != nil {
			return 0, fmt.Errorf("index %s: %w", docName, err)
		}
	}
	r.log.Debug("document indexed",
		zap.String("doc", docName),
		zap.String("domain", domain),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}
