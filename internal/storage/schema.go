package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgconn"
)

// schemaStatements creates the relational tables. Vector columns are owned
// by the pgvector backend and added separately.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS posts (
		id                   TEXT PRIMARY KEY,
		subreddit            TEXT NOT NULL,
		title                TEXT NOT NULL,
		body                 TEXT,
		author               TEXT,
		created_at           TIMESTAMPTZ NOT NULL,
		score                INTEGER NOT NULL DEFAULT 0,
		url                  TEXT,
		num_comments         INTEGER NOT NULL DEFAULT 0,
		last_comment_at      TIMESTAMPTZ,
		recent_comment_count INTEGER NOT NULL DEFAULT 0,
		activity_ratio       DOUBLE PRECISION NOT NULL DEFAULT 0,
		reconstructed_text   TEXT,
		embedded_at          TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS posts_subreddit_created ON posts (subreddit, created_at)`,
	`CREATE INDEX IF NOT EXISTS posts_activity ON posts (activity_ratio DESC)`,
	`CREATE INDEX IF NOT EXISTS posts_needs_embedding ON posts (id)
		WHERE embedded_at IS NULL AND reconstructed_text IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS posts_needs_text ON posts (id) WHERE reconstructed_text IS NULL`,

	`CREATE TABLE IF NOT EXISTS comments (
		id               TEXT PRIMARY KEY,
		post_id          TEXT REFERENCES posts(id) ON DELETE CASCADE,
		link_id          TEXT NOT NULL,
		parent_id        TEXT NOT NULL DEFAULT '',
		parent_type      TEXT NOT NULL DEFAULT '',
		author           TEXT,
		body             TEXT,
		created_at       TIMESTAMPTZ NOT NULL,
		score            INTEGER NOT NULL DEFAULT 0,
		controversiality INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS comments_post_created ON comments (post_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS comments_orphans ON comments (link_id) WHERE post_id IS NULL`,

	`CREATE TABLE IF NOT EXISTS comment_embeddings (
		comment_id  TEXT PRIMARY KEY REFERENCES comments(id) ON DELETE CASCADE,
		embedded_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS ingest_log (
		id            BIGSERIAL PRIMARY KEY,
		file_name     TEXT NOT NULL,
		file_kind     TEXT NOT NULL,
		year          INTEGER,
		subreddit     TEXT NOT NULL DEFAULT '',
		started_at    TIMESTAMPTZ NOT NULL,
		heartbeat_at  TIMESTAMPTZ NOT NULL,
		completed_at  TIMESTAMPTZ,
		rows_inserted BIGINT NOT NULL DEFAULT 0,
		rows_skipped  BIGINT NOT NULL DEFAULT 0,
		status        TEXT NOT NULL,
		error_text    TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ingest_log_one_complete
		ON ingest_log (file_name, COALESCE(year, 0)) WHERE status = 'complete'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ingest_log_one_running
		ON ingest_log (file_name, COALESCE(year, 0)) WHERE status = 'running'`,

	`CREATE TABLE IF NOT EXISTS alerts (
		id              BIGSERIAL PRIMARY KEY,
		user_email      TEXT NOT NULL,
		query           TEXT NOT NULL,
		query_embedding REAL[] NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS schema_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

const (
	metaVectorBackend   = "vector_backend"
	metaVectorDimension = "vector_dimension"
)

// Migrate creates every table and index. Safe to call on each start.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// CheckVectorConfig pins the deployment's vector backend and dimension on
// first use and refuses any later change. Changing either requires
// ResetEmbeddings.
func (db *DB) CheckVectorConfig(ctx context.Context, backend string, dimension int) error {
	meta, err := db.vectorMeta(ctx)
	if err != nil {
		return err
	}

	if len(meta) == 0 {
		return db.writeVectorMeta(ctx, db.pool, backend, dimension)
	}

	if got := meta[metaVectorBackend]; got != backend {
		return fmt.Errorf("%w: store was built for %q, configured %q", ErrBackendMismatch, got, backend)
	}
	stored, err := strconv.Atoi(meta[metaVectorDimension])
	if err != nil {
		return fmt.Errorf("corrupt %s in schema_meta: %w", metaVectorDimension, err)
	}
	if stored != dimension {
		return fmt.Errorf("%w: store holds %d-dim vectors, configured %d; run migrate --reembed",
			ErrDimensionMismatch, stored, dimension)
	}
	return nil
}

// ResetEmbeddings is the all-or-nothing re-embedding migration: it drops
// every vector column, clears every embedded marker and pins the new
// backend and dimension in one transaction. Vector columns are recreated
// by the backend's EnsureSchema afterwards.
func (db *DB) ResetEmbeddings(ctx context.Context, backend string, dimension int) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback(ctx)

	stmts := []string{
		`DROP INDEX IF EXISTS posts_embedding_hnsw`,
		`DROP INDEX IF EXISTS comment_embeddings_hnsw`,
		`ALTER TABLE posts DROP COLUMN IF EXISTS embedding`,
		`ALTER TABLE comment_embeddings DROP COLUMN IF EXISTS embedding`,
		`UPDATE posts SET embedded_at = NULL WHERE embedded_at IS NOT NULL`,
		`DELETE FROM comment_embeddings`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("reset embeddings: %w", err)
		}
	}
	if err := db.writeVectorMeta(ctx, tx, backend, dimension); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (db *DB) vectorMeta(ctx context.Context) (map[string]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT key, value FROM schema_meta WHERE key = ANY($1)`,
		[]string{metaVectorBackend, metaVectorDimension})
	if err != nil {
		return nil, fmt.Errorf("read schema_meta: %w", err)
	}
	defer rows.Close()

	meta := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(meta) == 1 {
		return nil, errors.New("schema_meta holds a partial vector configuration")
	}
	return meta, nil
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (db *DB) writeVectorMeta(ctx context.Context, q execer, backend string, dimension int) error {
	const upsert = `INSERT INTO schema_meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	if _, err := q.Exec(ctx, upsert, metaVectorBackend, backend); err != nil {
		return fmt.Errorf("write schema_meta: %w", err)
	}
	if _, err := q.Exec(ctx, upsert, metaVectorDimension, strconv.Itoa(dimension)); err != nil {
		return fmt.Errorf("write schema_meta: %w", err)
	}
	return nil
}
