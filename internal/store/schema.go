package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// annMinRows is the row count below which an exact scan beats ivfflat.
const annMinRows = 10000

// ensureSchema создаёт расширение, таблицу и индекс по домену для pgvector.
// dim <= 0 leaves the vector column untyped. The ivfflat index is built later
// by Optimize, once the table holds data to train its lists on.
func ensureSchema(ctx context.Context, db *sql.DB, table string, dim int) error {
	t := pq.QuoteIdentifier(table)
	column := "vector"
	if dim > 0 {
		column = fmt.Sprintf("vector(%d)", dim)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			chunk_id TEXT UNIQUE NOT NULL,
			domain TEXT NOT NULL DEFAULT '',
			doc_name TEXT,
			text TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding %s NOT NULL
		)`, t, column),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (domain)`, pq.QuoteIdentifier(table+"_domain_idx"), t),
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("store: postgres schema: %w", err)
		}
	}
	return nil
}

func annIndexName(table string) string { return table + "_embedding_ivfflat_idx" }

// listsFor follows the pgvector guidance: rows/1000 up to a million rows,
// sqrt(rows) beyond that.
func listsFor(rows int) int {
	if rows <= 1_000_000 {
		return max(rows/1000, 1)
	}
	return int(math.Sqrt(float64(rows)))
}

// probesFor picks ivfflat.probes for a search. A domain filter is applied
// after the approximate scan, so filtered searches visit every list.
func probesFor(lists int, filtered bool) int {
	if lists <= 0 {
		return 0
	}
	if filtered {
		return lists
	}
	return max(int(math.Sqrt(float64(lists))), 1)
}

// parseLists reads "lists=N" from an index's reloptions.
func parseLists(reloptions []string) int {
	for _, opt := range reloptions {
		if v, ok := strings.CutPrefix(opt, "lists="); ok {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}

// annLists returns the lists of the existing ivfflat index, 0 when there is none.
func annLists(ctx context.Context, db *sql.DB, table string) (int, error) {
	var opts []string
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(reloptions, '{}') FROM pg_class WHERE relname = $1 AND relkind = 'i'`,
		annIndexName(table)).Scan(pq.Array(&opts))
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseLists(opts), nil
}

// buildANNIndex (re)creates the ivfflat cosine index sized for rows. Small
// tables get no index and are scanned exactly.
func buildANNIndex(ctx context.Context, db *sql.DB, table string, rows int) (int, error) {
	t := pq.QuoteIdentifier(table)
	idx := pq.QuoteIdentifier(annIndexName(table))
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s`, idx)); err != nil {
		return 0, fmt.Errorf("store: drop ivfflat index: %w", err)
	}
	if rows < annMinRows {
		return 0, nil
	}
	lists := listsFor(rows)
	if _, err := db.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`, idx, t, lists)); err != nil {
		return 0, fmt.Errorf("store: create ivfflat index: %w", err)
	}
	// ivfflat needs fresh statistics to be picked by the planner
	_, _ = db.ExecContext(ctx, fmt.Sprintf(`ANALYZE %s`, t))
	return lists, nil
}
