package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
)

// TextQuery scopes a search for posts lacking reconstructed text.
type TextQuery struct {
	PostIDs     []string // empty means no id restriction
	Community   string
	TopComments int
	Limit       int
}

// PostsMissingText returns up to q.Limit posts whose reconstructed_text is
// null, each with its q.TopComments highest-scoring non-empty comments.
func (db *DB) PostsMissingText(ctx context.Context, q TextQuery) ([]ThreadSeed, error) {
	w := &whereBuilder{}
	w.add("reconstructed_text IS NULL")
	if len(q.PostIDs) > 0 {
		w.add("id = ANY(?)", q.PostIDs)
	}
	if q.Community != "" {
		w.add("subreddit = ?", q.Community)
	}
	rows, err := db.pool.Query(ctx, `SELECT id, title, body FROM posts`+w.sql()+
		` ORDER BY id LIMIT `+w.arg(q.Limit), w.args...)
	if err != nil {
		return nil, fmt.Errorf("query posts missing text: %w", err)
	}
	defer rows.Close()

	var seeds []ThreadSeed
	index := map[string]int{}
	for rows.Next() {
		var s ThreadSeed
		if err := rows.Scan(&s.PostID, &s.Title, &s.Body); err != nil {
			return nil, fmt.Errorf("scan post text: %w", err)
		}
		index[s.PostID] = len(seeds)
		seeds = append(seeds, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if q.TopComments <= 0 || len(seeds) == 0 {
		return seeds, nil
	}

	ids := make([]string, len(seeds))
	for i, s := range seeds {
		ids[i] = s.PostID
	}
	crows, err := db.pool.Query(ctx, `
		SELECT post_id, body FROM (
			SELECT post_id, body,
				ROW_NUMBER() OVER (PARTITION BY post_id ORDER BY score DESC, id) AS rn
			FROM comments
			WHERE post_id = ANY($1) AND body IS NOT NULL AND body <> ''
		) ranked
		WHERE rn <= $2
		ORDER BY post_id, rn`, ids, q.TopComments)
	if err != nil {
		return nil, fmt.Errorf("query top comments: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var postID, body string
		if err := crows.Scan(&postID, &body); err != nil {
			return nil, fmt.Errorf("scan top comment: %w", err)
		}
		if i, ok := index[postID]; ok {
			seeds[i].TopComments = append(seeds[i].TopComments, body)
		}
	}
	return seeds, crows.Err()
}

// SetReconstructedText fills reconstructed_text where it is still null.
func (db *DB) SetReconstructedText(ctx context.Context, updates []TextUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`UPDATE posts SET reconstructed_text = $2
			WHERE id = $1 AND reconstructed_text IS NULL`, u.PostID, u.Text)
	}
	n, err := db.execBatch(ctx, batch)
	if err != nil {
		return n, fmt.Errorf("set reconstructed text: %w", err)
	}
	return n, nil
}
