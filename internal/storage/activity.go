package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
)

// PostCommentStats aggregates the comments of each post in postIDs.
// RecentCount covers comments created in (since, now].
func (db *DB) PostCommentStats(ctx context.Context, postIDs []string, since, now time.Time) ([]CommentStats, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx, `
		SELECT p.id, p.created_at, MAX(c.created_at),
			COUNT(c.id) FILTER (WHERE c.created_at > $2 AND c.created_at <= $3)
		FROM posts p
		LEFT JOIN comments c ON c.post_id = p.id
		WHERE p.id = ANY($1)
		GROUP BY p.id, p.created_at`, postIDs, since, now)
	if err != nil {
		return nil, fmt.Errorf("query comment stats: %w", err)
	}
	defer rows.Close()

	var stats []CommentStats
	for rows.Next() {
		var s CommentStats
		var recent int64
		if err := rows.Scan(&s.PostID, &s.CreatedAt, &s.LastCommentAt, &recent); err != nil {
			return nil, fmt.Errorf("scan comment stats: %w", err)
		}
		s.RecentCount = int(recent)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// UpdateActivity writes derived activity fields for a batch of posts.
func (db *DB) UpdateActivity(ctx context.Context, updates []ActivityUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`UPDATE posts
			SET last_comment_at = $2, recent_comment_count = $3, activity_ratio = $4
			WHERE id = $1`, u.PostID, u.LastCommentAt, u.RecentCount, u.Ratio)
	}
	if _, err := db.execBatch(ctx, batch); err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	return nil
}

// ListPostIDs pages through post ids in id order. An empty community lists
// every post.
func (db *DB) ListPostIDs(ctx context.Context, community, afterID string, limit int) ([]string, error) {
	w := &whereBuilder{}
	w.add("id > ?", afterID)
	if community != "" {
		w.add("subreddit = ?", community)
	}
	rows, err := db.pool.Query(ctx, `SELECT id FROM posts`+w.sql()+` ORDER BY id LIMIT `+w.arg(limit), w.args...)
	if err != nil {
		return nil, fmt.Errorf("list post ids: %w", err)
	}
	return collectStrings(rows)
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
