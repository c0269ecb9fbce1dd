package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/katakuxiko/smeplug/internal/model"
)

// PgStore is a pgvector-backed index. Distances come from the <=> cosine operator.
type PgStore struct {
	db    *sql.DB
	table string
	dim   int
	lists atomic.Int64 // ivfflat lists, 0 when searches are exact
	log   *zap.Logger
}

// NewPgStore подключается к Postgres и готовит таблицу чанков
func NewPgStore(ctx context.Context, conn, collection string, dim int, log *zap.Logger) (*PgStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if collection == "" {
		collection = "chunks"
	}
	db, err := sql.Open("postgres", conn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	if err := ensureSchema(ctx, db, collection, dim); err != nil {
		db.Close()
		return nil, err
	}
	lists, err := annLists(ctx, db, collection)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: inspect ivfflat index: %w", err)
	}
	s := &PgStore{db: db, table: collection, dim: dim, log: log}
	s.lists.Store(int64(lists))
	log.Info("postgres index ready", zap.String("collection", collection), zap.Int("dim", dim), zap.Int("ivfflat_lists", lists))
	return s, nil
}

// Add сохраняет чанки; все векторы должны совпадать по размерности с таблицей
func (s *PgStore) Add(ctx context.Context, chunks []model.Chunk, vectors [][]float32) error {
	if err := checkBatch(chunks, vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	dim := s.dim
	if dim <= 0 {
		if dim, err = storedDimension(ctx, tx, s.table); err != nil {
			return err
		}
	}
	if err := checkDimensions(chunks, vectors, dim); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (chunk_id, domain, doc_name, text, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6::vector)
		ON CONFLICT (chunk_id) DO UPDATE
		SET domain = EXCLUDED.domain, doc_name = EXCLUDED.doc_name, text = EXCLUDED.text,
		    metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding
	`, pq.QuoteIdentifier(s.table)))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, ch := range chunks {
		meta, err := json.Marshal(ch.Metadata)
		if err != nil {
			return err
		}
		vec := floatsToPgVectorLiteral(vectors[i])
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.Metadata.Domain, ch.Metadata.DocName, ch.Text, string(meta), vec); err != nil {
			return fmt.Errorf("store: insert %s: %w", ch.ID, err)
		}
	}
	return tx.Commit()
}

// Search ищет ближайшие чанки. Rows whose dimension differs from the query
// are skipped.
func (s *PgStore) Search(ctx context.Context, query []float32, k int, filter Filter) ([]model.ScoredChunk, error) {
	if k <= 0 || len(query) == 0 {
		return nil, nil
	}
	q, args := searchQuery(s.table, query, k, filter)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	if probes := probesFor(int(s.lists.Load()), filter.Domain != ""); probes > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`SET LOCAL ivfflat.probes = %d`, probes)); err != nil {
			return nil, fmt.Errorf("store: set ivfflat.probes: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.ScoredChunk
	for rows.Next() {
		var (
			sc     model.ScoredChunk
			domain string
			meta   []byte
		)
		if err := rows.Scan(&sc.Chunk.ID, &domain, &sc.Chunk.Text, &meta, &sc.Distance); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &sc.Chunk.Metadata); err != nil {
			s.log.Warn("unreadable chunk metadata", zap.String("id", sc.Chunk.ID), zap.Error(err))
		}
		sc.Chunk.Metadata.Domain = domain
		res = append(res, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rank(res, k), nil
}

// searchQuery builds the nearest-neighbour query and its arguments.
func searchQuery(table string, query []float32, k int, filter Filter) (string, []any) {
	args := []any{floatsToPgVectorLiteral(query), k, len(query)}
	where := "WHERE vector_dims(embedding) = $3"
	if filter.Domain != "" {
		where += " AND domain = $4"
		args = append(args, filter.Domain)
	}
	return fmt.Sprintf(`
		SELECT chunk_id, domain, text, metadata, embedding <=> $1::vector AS distance
		FROM %s
		%s
		ORDER BY distance
		LIMIT $2
	`, pq.QuoteIdentifier(table), where), args
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// storedDimension returns the dimension of the stored vectors, 0 for an empty table.
func storedDimension(ctx context.Context, q queryRower, table string) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT vector_dims(embedding) FROM %s LIMIT 1`, pq.QuoteIdentifier(table))).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return dim, err
}

// Optimize перестраивает ivfflat индекс под текущий объём таблицы
func (s *PgStore) Optimize(ctx context.Context) error {
	if s.dim <= 0 {
		s.log.Debug("ivfflat index skipped: vector column has no fixed dimension")
		return nil
	}
	rows, err := s.Count(ctx)
	if err != nil {
		return err
	}
	lists, err := buildANNIndex(ctx, s.db, s.table, rows)
	if err != nil {
		return err
	}
	s.lists.Store(int64(lists))
	s.log.Info("ivfflat index rebuilt", zap.Int("rows", rows), zap.Int("lists", lists))
	return nil
}

// Domains возвращает список доменов в индексе
func (s *PgStore) Domains(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT DISTINCT domain FROM %s WHERE domain <> '' ORDER BY domain`, pq.QuoteIdentifier(s.table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Count возвращает число чанков
func (s *PgStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, pq.QuoteIdentifier(s.table))).Scan(&n)
	return n, err
}

// Clear очищает таблицу чанков
func (s *PgStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`TRUNCATE %s`, pq.QuoteIdentifier(s.table)))
	return err
}

// Close закрывает соединение
func (s *PgStore) Close() error { return s.db.Close() }

func floatsToPgVectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.Grow(len(v) * 10)
	sb.WriteByte('[')
	buf := make([]byte, 0, 16)
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		buf = strconv.AppendFloat(buf[:0], float64(f), 'f', 6, 32)
		sb.Write(buf)
	}
	sb.WriteByte(']')
	return sb.String()
}

var (
	_ Index     = (*PgStore)(nil)
	_ Optimizer = (*PgStore)(nil)
)
