package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
)

const postColumns = `id, subreddit, title, body, author, created_at, score, url, num_comments,
	last_comment_at, recent_comment_count, activity_ratio, reconstructed_text, embedded_at`

const commentColumns = `c.id, c.post_id, c.link_id, c.parent_id, c.parent_type, c.author, c.body,
	c.created_at, c.score, c.controversiality`

func scanPost(row pgx.Row) (*Post, error) {
	var p Post
	err := row.Scan(&p.ID, &p.Subreddit, &p.Title, &p.Body, &p.Author, &p.CreatedAt, &p.Score, &p.URL,
		&p.NumComments, &p.LastCommentAt, &p.RecentCommentCount, &p.ActivityRatio,
		&p.ReconstructedText, &p.EmbeddedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanComment(row pgx.Row, extra ...any) (*Comment, error) {
	var c Comment
	dest := []any{&c.ID, &c.PostID, &c.LinkID, &c.ParentID, &c.ParentType, &c.Author, &c.Body,
		&c.CreatedAt, &c.Score, &c.Controversiality}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &c, nil
}

func collectPosts(rows pgx.Rows) ([]*Post, error) {
	defer rows.Close()
	var posts []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// PostsByIDs loads the posts in ids. Missing ids are silently absent.
func (db *DB) PostsByIDs(ctx context.Context, ids []string) ([]*Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	return collectPosts(rows)
}

// GetPost loads one post or returns ErrPostNotFound.
func (db *DB) GetPost(ctx context.Context, id string) (*Post, error) {
	p, err := scanPost(db.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	return p, nil
}

// TopPostsByActivity lists posts with activity ratio at least minRatio by
// descending activity ratio.
func (db *DB) TopPostsByActivity(ctx context.Context, community string, minRatio float64, limit int) ([]*Post, error) {
	w := &whereBuilder{}
	if minRatio > 0 {
		w.add("activity_ratio >= ?", minRatio)
	}
	if community != "" {
		w.add("subreddit = ?", community)
	}
	rows, err := db.pool.Query(ctx, `SELECT `+postColumns+` FROM posts`+w.sql()+
		` ORDER BY activity_ratio DESC, id LIMIT `+w.arg(limit), w.args...)
	if err != nil {
		return nil, fmt.Errorf("query top posts: %w", err)
	}
	return collectPosts(rows)
}

// ThreadComments lists a post's comments oldest first.
func (db *DB) ThreadComments(ctx context.Context, postID string, limit int) ([]*Comment, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+commentColumns+` FROM comments c
		WHERE c.post_id = $1 ORDER BY c.created_at, c.id LIMIT $2`, postID, limit)
	if err != nil {
		return nil, fmt.Errorf("query thread comments: %w", err)
	}
	defer rows.Close()

	var out []*Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CommentsByIDs loads comments with the community of their post.
func (db *DB) CommentsByIDs(ctx context.Context, ids []string) ([]*CommentHit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx, `SELECT `+commentColumns+`, COALESCE(p.subreddit, '')
		FROM comments c LEFT JOIN posts p ON p.id = c.post_id
		WHERE c.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	var out []*CommentHit
	for rows.Next() {
		var subreddit string
		c, err := scanComment(rows, &subreddit)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, &CommentHit{Comment: *c, Subreddit: subreddit})
	}
	return out, rows.Err()
}

// CommentCountsSince counts each post's comments created in [since, until].
func (db *DB) CommentCountsSince(ctx context.Context, postIDs []string, since, until time.Time) (map[string]int, error) {
	if len(postIDs) == 0 {
		return map[string]int{}, nil
	}
	rows, err := db.pool.Query(ctx, `SELECT post_id, COUNT(*) FROM comments
		WHERE post_id = ANY($1) AND created_at >= $2 AND created_at <= $3
		GROUP BY post_id`, postIDs, since, until)
	if err != nil {
		return nil, fmt.Errorf("count recent comments: %w", err)
	}
	return collectCounts(rows)
}

// CommentCountsNearLast counts each post's comments within window of its
// own last_comment_at, which suits historical dumps with no live "now".
func (db *DB) CommentCountsNearLast(ctx context.Context, postIDs []string, window time.Duration) (map[string]int, error) {
	if len(postIDs) == 0 {
		return map[string]int{}, nil
	}
	rows, err := db.pool.Query(ctx, `SELECT p.id, COUNT(c.id) FROM posts p
		JOIN comments c ON c.post_id = p.id
		WHERE p.id = ANY($1) AND p.last_comment_at IS NOT NULL
			AND c.created_at >= p.last_comment_at - make_interval(secs => $2)
		GROUP BY p.id`, postIDs, window.Seconds())
	if err != nil {
		return nil, fmt.Errorf("count comments near last: %w", err)
	}
	return collectCounts(rows)
}

func collectCounts(rows pgx.Rows) (map[string]int, error) {
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[id] = int(n)
	}
	return counts, rows.Err()
}

// CreateAlert stores a saved query with its embedding.
func (db *DB) CreateAlert(ctx context.Context, email, query string, embedding []float32) (*Alert, error) {
	a := &Alert{UserEmail: email, Query: query}
	err := db.pool.QueryRow(ctx, `INSERT INTO alerts (user_email, query, query_embedding)
		VALUES ($1, $2, $3) RETURNING id, created_at`, email, query, embedding).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}
	return a, nil
}
