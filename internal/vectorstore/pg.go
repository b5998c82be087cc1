package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const (
	postsIndexName    = "posts_embedding_hnsw"
	commentsIndexName = "comment_embeddings_hnsw"

	// maxEfSearch is the largest hnsw.ef_search pgvector accepts.
	maxEfSearch = 1000
)

// PGStore keeps vectors in pgvector columns next to the rows they embed,
// so a vector and its marker commit in one transaction.
type PGStore struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPGStore wraps a pool owned by the caller.
func NewPGStore(pool *pgxpool.Pool, dimension int) *PGStore {
	return &PGStore{pool: pool, dimension: dimension}
}

// EnsureSchema installs the extension and adds the vector columns at the
// configured dimension. Idempotent.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	dim := strconv.Itoa(s.dimension)
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`ALTER TABLE posts ADD COLUMN IF NOT EXISTS embedding vector(` + dim + `)`,
		`ALTER TABLE comment_embeddings ADD COLUMN IF NOT EXISTS embedding vector(` + dim + `)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure vector schema: %w", err)
		}
	}
	return nil
}

// WritePostVectors sets embedding and embedded_at for each post in one
// transaction. Posts rebuilt since r.Text was read are left untouched.
func (s *PGStore) WritePostVectors(ctx context.Context, recs []Record, at time.Time) error {
	if err := checkDimensions(recs, s.dimension); err != nil {
		return err
	}
	return s.writeBatch(ctx, recs, func(b *pgx.Batch, r Record, vec any) {
		b.Queue(`UPDATE posts SET embedding = $2::vector, embedded_at = $3
			WHERE id = $1 AND reconstructed_text = $4`, r.ID, vec, at, r.Text)
	})
}

// WriteCommentVectors inserts one comment_embeddings row per comment in one
// transaction.
func (s *PGStore) WriteCommentVectors(ctx context.Context, recs []Record, at time.Time) error {
	if err := checkDimensions(recs, s.dimension); err != nil {
		return err
	}
	return s.writeBatch(ctx, recs, func(b *pgx.Batch, r Record, vec any) {
		b.Queue(`INSERT INTO comment_embeddings (comment_id, embedded_at, embedding)
			VALUES ($1, $2, $3::vector)
			ON CONFLICT (comment_id) DO UPDATE
			SET embedding = EXCLUDED.embedding, embedded_at = EXCLUDED.embedded_at`, r.ID, at, vec)
	})
}

func (s *PGStore) writeBatch(ctx context.Context, recs []Record, queue func(*pgx.Batch, Record, any)) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range recs {
		vec, err := vectorParam(r.Vector)
		if err != nil {
			return err
		}
		queue(batch, r, vec)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin vector write: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for range recs {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("write vector: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("write vector: %w", err)
	}
	return tx.Commit(ctx)
}

// MatchPosts returns embedded posts with similarity >= q.MinSimilarity,
// most similar first.
func (s *PGStore) MatchPosts(ctx context.Context, q MatchQuery) ([]Match, error) {
	sql := `SELECT id, 1 - (embedding <=> $1::vector) AS similarity
		FROM posts
		WHERE embedding IS NOT NULL AND embedded_at IS NOT NULL
			AND 1 - (embedding <=> $1::vector) >= $2`
	args := []any{nil, q.MinSimilarity}
	if q.Community != "" {
		args = append(args, q.Community)
		sql += ` AND subreddit = $3`
	}
	args = append(args, q.Limit)
	sql += ` ORDER BY embedding <=> $1::vector, id LIMIT $` + strconv.Itoa(len(args))
	return s.match(ctx, q, sql, args)
}

// MatchComments is MatchPosts over comment_embeddings. A community filter
// excludes orphan comments.
func (s *PGStore) MatchComments(ctx context.Context, q MatchQuery) ([]Match, error) {
	sql := `SELECT ce.comment_id, 1 - (ce.embedding <=> $1::vector) AS similarity
		FROM comment_embeddings ce`
	args := []any{nil, q.MinSimilarity}
	if q.Community != "" {
		args = append(args, q.Community)
		sql += ` JOIN comments c ON c.id = ce.comment_id
			JOIN posts p ON p.id = c.post_id AND p.subreddit = $3`
	}
	sql += ` WHERE ce.embedding IS NOT NULL AND 1 - (ce.embedding <=> $1::vector) >= $2`
	args = append(args, q.Limit)
	sql += ` ORDER BY ce.embedding <=> $1::vector, ce.comment_id LIMIT $` + strconv.Itoa(len(args))
	return s.match(ctx, q, sql, args)
}

// match runs a similarity query in a read-only transaction. Exact queries
// disable index scans so every vector is compared; otherwise
// hnsw.ef_search is raised towards the limit, so an index scan can return
// more than the default 40 candidates.
func (s *PGStore) match(ctx context.Context, q MatchQuery, sql string, args []any) ([]Match, error) {
	if len(q.Vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d", errDimension, len(q.Vector), s.dimension)
	}
	if q.Limit <= 0 {
		return nil, nil
	}
	vec, err := vectorParam(q.Vector)
	if err != nil {
		return nil, err
	}
	args[0] = vec

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin match: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, scanSetting(q)); err != nil {
		return nil, fmt.Errorf("configure scan: %w", err)
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// EnsureIndex creates the HNSW cosine indexes when absent. With p.Rebuild
// the existing indexes are dropped first.
func (s *PGStore) EnsureIndex(ctx context.Context, p IndexParams) error {
	if err := p.validate(); err != nil {
		return err
	}
	with := fmt.Sprintf(`WITH (m = %d, ef_construction = %d)`, p.M, p.EfConstruction)

	var stmts []string
	if p.Rebuild {
		stmts = append(stmts,
			`DROP INDEX IF EXISTS `+postsIndexName,
			`DROP INDEX IF EXISTS `+commentsIndexName)
	}
	stmts = append(stmts,
		`CREATE INDEX IF NOT EXISTS `+postsIndexName+` ON posts USING hnsw (embedding vector_cosine_ops) `+with,
		`CREATE INDEX IF NOT EXISTS `+commentsIndexName+` ON comment_embeddings USING hnsw (embedding vector_cosine_ops) `+with,
	)
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure index: %w", err)
		}
	}
	return nil
}

// Reset is a no-op: storage.ResetEmbeddings drops the vector columns in the
// same transaction that clears the markers.
func (s *PGStore) Reset(ctx context.Context) error {
	return nil
}

// Health checks that the pgvector extension is installed.
func (s *PGStore) Health(ctx context.Context) error {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`).Scan(&ok)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("pgvector extension is not installed")
	}
	return nil
}

// Close does nothing; the pool belongs to storage.DB.
func (s *PGStore) Close() error {
	return nil
}

func scanSetting(q MatchQuery) string {
	if q.Exact {
		return `SET LOCAL enable_indexscan = off`
	}
	ef := min(max(q.Limit, 40), maxEfSearch)
	return `SET LOCAL hnsw.ef_search = ` + strconv.Itoa(ef)
}

func vectorParam(v []float32) (any, error) {
	val, err := pgvector.NewVector(v).Value()
	if err != nil {
		return nil, fmt.Errorf("encode vector: %w", err)
	}
	return val, nil
}
