package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/katakuxiko/smeplug/internal/model"
)

var collectionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteStore keeps chunks in an embedded SQLite file. The domain filter runs in SQL,
// distances are computed in Go over the filtered rows.
type SQLiteStore struct {
	db    *sql.DB
	table string
	log   *zap.Logger
}

// OpenSQLite opens (or creates) the index at path. ":memory:" gives a private in-memory index.
func OpenSQLite(ctx context.Context, path, collection string, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if collection == "" {
		collection = "chunks"
	}
	if !collectionName.MatchString(collection) {
		return nil, fmt.Errorf("store: invalid collection name %q", collection)
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: prepare sqlite dir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, table: collection, log: log}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("sqlite index ready", zap.String("path", path), zap.String("collection", collection))
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			domain TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			meta TEXT NOT NULL,
			dim INTEGER NOT NULL,
			embedding BLOB NOT NULL
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_domain_idx ON %s(domain)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: sqlite schema: %w", err)
		}
	}
	return nil
}

// Add сохраняет чанки в одной транзакции
func (s *SQLiteStore) Add(ctx context.Context, chunks []model.Chunk, vectors [][]float32) error {
	if err := checkBatch(chunks, vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	dim, err := s.dimension(ctx)
	if err != nil {
		return err
	}
	if err := checkDimensions(chunks, vectors, dim); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT OR REPLACE INTO %s(id, domain, content, meta, dim, embedding) VALUES(?, ?, ?, ?, ?, ?)`, s.table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, ch := range chunks {
		v := vectors[i]
		meta, err := json.Marshal(ch.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.Metadata.Domain, ch.Text, string(meta), len(v), encodeEmbedding(v)); err != nil {
			return fmt.Errorf("store: insert %s: %w", ch.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) dimension(ctx context.Context) (int, error) {
	var dim sql.NullInt64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT dim FROM %s LIMIT 1`, s.table)).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(dim.Int64), nil
}

// Search считает расстояния в Go по строкам домена
func (s *SQLiteStore) Search(ctx context.Context, query []float32, k int, filter Filter) ([]model.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT id, domain, content, meta, embedding FROM %s`, s.table)
	var args []any
	if filter.Domain != "" {
		q += ` WHERE domain = ?`
		args = append(args, filter.Domain)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.ScoredChunk
	for rows.Next() {
		var (
			ch     model.Chunk
			domain string
			meta   string
			blob   []byte
		)
		if err := rows.Scan(&ch.ID, &domain, &ch.Text, &meta, &blob); err != nil {
			return nil, err
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			s.log.Warn("skipping corrupt embedding", zap.String("id", ch.ID), zap.Error(err))
			continue
		}
		d, err := CosineDistance(query, vec)
		if err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(meta), &ch.Metadata); err != nil {
			s.log.Warn("unreadable chunk metadata", zap.String("id", ch.ID), zap.Error(err))
		}
		ch.Metadata.Domain = domain
		res = append(res, model.ScoredChunk{Chunk: ch, Distance: d})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rank(res, k), nil
}

// Domains возвращает список доменов
func (s *SQLiteStore) Domains(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT domain FROM %s WHERE domain <> '' ORDER BY domain`, s.table))
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
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n)
	return n, err
}

// Clear удаляет все чанки
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table))
	return err
}

// Close закрывает базу
func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Index = (*SQLiteStore)(nil)
