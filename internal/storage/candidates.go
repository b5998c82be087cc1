package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
)

// PostCandidates pages, in id order after afterID, through posts that have
// reconstructed text but no embedding. Served by posts_needs_embedding.
func (db *DB) PostCandidates(ctx context.Context, community, afterID string, limit int) ([]EmbedCandidate, error) {
	w := &whereBuilder{}
	w.add("embedded_at IS NULL")
	w.add("reconstructed_text IS NOT NULL")
	w.add("id > ?", afterID)
	if community != "" {
		w.add("subreddit = ?", community)
	}
	rows, err := db.pool.Query(ctx, `SELECT id, id, subreddit, created_at, reconstructed_text FROM posts`+
		w.sql()+` ORDER BY id LIMIT `+w.arg(limit), w.args...)
	if err != nil {
		return nil, fmt.Errorf("query post candidates: %w", err)
	}
	return collectCandidates(rows)
}

// CommentCandidates pages through comments with a body and no
// comment_embeddings row. Orphan comments only qualify when no community
// filter is set.
func (db *DB) CommentCandidates(ctx context.Context, community, afterID string, limit int) ([]EmbedCandidate, error) {
	w := &whereBuilder{}
	w.add("ce.comment_id IS NULL")
	w.add("c.body IS NOT NULL")
	w.add("c.body <> ''")
	w.add("c.id > ?", afterID)
	if community != "" {
		w.add("p.subreddit = ?", community)
	}
	rows, err := db.pool.Query(ctx, `
		SELECT c.id, COALESCE(c.post_id, ''), COALESCE(p.subreddit, ''), c.created_at, c.body
		FROM comments c
		LEFT JOIN comment_embeddings ce ON ce.comment_id = c.id
		LEFT JOIN posts p ON p.id = c.post_id`+
		w.sql()+` ORDER BY c.id LIMIT `+w.arg(limit), w.args...)
	if err != nil {
		return nil, fmt.Errorf("query comment candidates: %w", err)
	}
	return collectCandidates(rows)
}

// MarkPostsEmbedded sets embedded_at for posts whose vectors live outside
// Postgres. texts[i] is the text embedded for ids[i]; a post whose
// reconstructed text differs by now was rebuilt and is not marked.
func (db *DB) MarkPostsEmbedded(ctx context.Context, ids, texts []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(texts) {
		return fmt.Errorf("mark posts embedded: %d ids for %d texts", len(ids), len(texts))
	}
	_, err := db.pool.Exec(ctx, `
		UPDATE posts p SET embedded_at = $3
		FROM unnest($1::text[], $2::text[]) AS m(id, text)
		WHERE p.id = m.id AND p.reconstructed_text = m.text`, ids, texts, at)
	if err != nil {
		return fmt.Errorf("mark posts embedded: %w", err)
	}
	return nil
}

// MarkCommentsEmbedded inserts comment_embeddings rows for comments whose
// vectors live outside Postgres.
func (db *DB) MarkCommentsEmbedded(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO comment_embeddings (comment_id, embedded_at)
		SELECT id, $2 FROM unnest($1::text[]) AS id
		ON CONFLICT (comment_id) DO UPDATE SET embedded_at = EXCLUDED.embedded_at`, ids, at)
	if err != nil {
		return fmt.Errorf("mark comments embedded: %w", err)
	}
	return nil
}

func collectCandidates(rows pgx.Rows) ([]EmbedCandidate, error) {
	defer rows.Close()
	var out []EmbedCandidate
	for rows.Next() {
		var c EmbedCandidate
		if err := rows.Scan(&c.ID, &c.PostID, &c.Subreddit, &c.CreatedAt, &c.Text); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
