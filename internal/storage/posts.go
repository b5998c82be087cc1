package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
)

// A changed, non-deleted body invalidates the derived text and the vector
// marker so the reconstructor and the backfill worker pick the post up
// again. Identity fields (author, created_at) are never overwritten.
const upsertPostSQL = `
INSERT INTO posts (id, subreddit, title, body, author, created_at, score, url, num_comments)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	score        = EXCLUDED.score,
	num_comments = EXCLUDED.num_comments,
	url          = COALESCE(EXCLUDED.url, posts.url),
	body         = COALESCE(EXCLUDED.body, posts.body),
	reconstructed_text = CASE
		WHEN EXCLUDED.body IS NOT NULL AND EXCLUDED.body IS DISTINCT FROM posts.body THEN NULL
		ELSE posts.reconstructed_text END,
	embedded_at = CASE
		WHEN EXCLUDED.body IS NOT NULL AND EXCLUDED.body IS DISTINCT FROM posts.body THEN NULL
		ELSE posts.embedded_at END`

// post_id resolves to NULL while the owning post is not loaded; link_id
// keeps the raw reference so LinkOrphanComments can attach it later.
const upsertCommentSQL = `
INSERT INTO comments (id, post_id, link_id, parent_id, parent_type, author, body, created_at, score, controversiality)
VALUES ($1, (SELECT p.id FROM posts p WHERE p.id = $2), $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	post_id          = COALESCE(comments.post_id, EXCLUDED.post_id),
	score            = EXCLUDED.score,
	controversiality = EXCLUDED.controversiality,
	body             = COALESCE(EXCLUDED.body, comments.body)`

// UpsertPosts inserts or merges a batch of posts and returns the number of
// rows written.
func (db *DB) UpsertPosts(ctx context.Context, posts []*Post) (int64, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, p := range posts {
		batch.Queue(upsertPostSQL, p.ID, p.Subreddit, p.Title, p.Body, p.Author,
			p.CreatedAt, p.Score, p.URL, p.NumComments)
	}
	n, err := db.execBatch(ctx, batch)
	if err != nil {
		return n, fmt.Errorf("upsert posts: %w", err)
	}
	return n, nil
}

// UpsertComments inserts or merges a batch of comments and returns the
// number of rows written.
func (db *DB) UpsertComments(ctx context.Context, comments []*Comment) (int64, error) {
	if len(comments) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, c := range comments {
		batch.Queue(upsertCommentSQL, c.ID, c.LinkID, c.ParentID, c.ParentType, c.Author,
			c.Body, c.CreatedAt, c.Score, c.Controversiality)
	}
	n, err := db.execBatch(ctx, batch)
	if err != nil {
		return n, fmt.Errorf("upsert comments: %w", err)
	}
	return n, nil
}

// LinkOrphanComments attaches comments whose post arrived after them.
// An empty community links across the whole corpus.
func (db *DB) LinkOrphanComments(ctx context.Context, community string) (int64, error) {
	w := &whereBuilder{}
	w.add("c.post_id IS NULL")
	w.add("p.id = c.link_id")
	if community != "" {
		w.add("p.subreddit = ?", community)
	}
	tag, err := db.pool.Exec(ctx, `UPDATE comments c SET post_id = p.id FROM posts p`+w.sql(), w.args...)
	if err != nil {
		return 0, fmt.Errorf("link orphan comments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (db *DB) execBatch(ctx context.Context, batch *pgx.Batch) (int64, error) {
	br := db.pool.SendBatch(ctx, batch)
	defer br.Close()

	var total int64
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
