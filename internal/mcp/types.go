// Package mcp exposes the retrieval and analytics engine as MCP tools.
package mcp

import (
	"time"

	"github.com/nybblers/threaddemand/internal/retrieval"
	"github.com/nybblers/threaddemand/internal/storage"
)

// SearchInput defines the input parameters for the search_threads tool.
type SearchInput struct {
	Query         string   `json:"query" jsonschema:"Natural language description of the problem or need to look for"`
	Community     string   `json:"community,omitempty" jsonschema:"Restrict matches to one community (subreddit)"`
	Limit         int      `json:"limit,omitempty" jsonschema:"Maximum number of threads to return (default 10)"`
	MinSimilarity *float64 `json:"min_similarity,omitempty" jsonschema:"Cosine similarity threshold in [-1, 1]; the server default applies when omitted"`
}

// SearchOutput contains the ranked threads.
type SearchOutput struct {
	Query         string                   `json:"query"`
	MinSimilarity float64                  `json:"min_similarity"`
	TotalMatches  int                      `json:"total_matches"`
	Truncated     bool                     `json:"truncated"`
	Results       []retrieval.SearchResult `json:"results"`
	// Message provides informational context (e.g., "No matching threads found").
	Message string `json:"message,omitempty"`
}

// DemandInput defines the input parameters for the demand_count tool.
type DemandInput struct {
	Query         string   `json:"query" jsonschema:"Natural language description of the need"`
	Community     string   `json:"community,omitempty" jsonschema:"Restrict matches to one community"`
	MinSimilarity *float64 `json:"min_similarity,omitempty" jsonschema:"Cosine similarity threshold in [-1, 1]"`
}

// MentionsInput defines the input parameters for the mentions_over_time tool.
type MentionsInput struct {
	Query         string   `json:"query" jsonschema:"Natural language description of the need"`
	Community     string   `json:"community,omitempty" jsonschema:"Restrict matches to one community"`
	Granularity   string   `json:"granularity,omitempty" jsonschema:"Bucket width: week or month (default month)"`
	MinSimilarity *float64 `json:"min_similarity,omitempty" jsonschema:"Cosine similarity threshold in [-1, 1]"`
}

// GrowthInput defines the input parameters for the growth_momentum tool.
type GrowthInput struct {
	Query         string   `json:"query" jsonschema:"Natural language description of the need"`
	Community     string   `json:"community,omitempty" jsonschema:"Restrict matches to one community"`
	MinSimilarity *float64 `json:"min_similarity,omitempty" jsonschema:"Cosine similarity threshold in [-1, 1]"`
}

// ActiveThreadsInput defines the input parameters for the active_threads tool.
type ActiveThreadsInput struct {
	Query         string   `json:"query" jsonschema:"Natural language description of the need"`
	Community     string   `json:"community,omitempty" jsonschema:"Restrict matches to one community"`
	WindowHours   int      `json:"window_hours,omitempty" jsonschema:"Activity window in hours (default 24)"`
	MinComments   int      `json:"min_comments,omitempty" jsonschema:"Minimum comments inside the window (default 3)"`
	Limit         int      `json:"limit,omitempty" jsonschema:"Maximum number of threads to return (default 20)"`
	MinSimilarity *float64 `json:"min_similarity,omitempty" jsonschema:"Cosine similarity threshold in [-1, 1]"`
	Anchor        string   `json:"anchor,omitempty" jsonschema:"Where the window ends: now (default) or last_comment for historical dumps"`
	Now           string   `json:"now,omitempty" jsonschema:"RFC 3339 timestamp used as the window end instead of the current time"`
}

// ThreadsActivityInput defines the input parameters for the threads_activity tool.
type ThreadsActivityInput struct {
	PostIDs     []string `json:"post_ids" jsonschema:"Thread ids to report on"`
	WindowHours int      `json:"window_hours,omitempty" jsonschema:"Activity window in hours (default 24)"`
	Anchor      string   `json:"anchor,omitempty" jsonschema:"Where the window ends: now (default) or last_comment"`
	Now         string   `json:"now,omitempty" jsonschema:"RFC 3339 timestamp used as the window end"`
}

// TopMatchesInput defines the input parameters for the top_matches tool.
type TopMatchesInput struct {
	Query         string   `json:"query" jsonschema:"Natural language description of the need"`
	Limit         int      `json:"limit,omitempty" jsonschema:"Maximum number of posts and comments to return (default 10)"`
	MinSimilarity *float64 `json:"min_similarity,omitempty" jsonschema:"Cosine similarity threshold in [-1, 1]"`
}

// TopMatchesOutput lists posts and comments together.
type TopMatchesOutput struct {
	Matches []retrieval.TopMatch `json:"matches"`
}

// UsersInput defines the input parameters for the users_by_community tool.
type UsersInput struct {
	Query         string   `json:"query" jsonschema:"Natural language description of the need"`
	Limit         int      `json:"limit,omitempty" jsonschema:"Number of matching posts considered (default 50)"`
	MinSimilarity *float64 `json:"min_similarity,omitempty" jsonschema:"Cosine similarity threshold in [-1, 1]"`
}

// UsersOutput maps community to author names.
type UsersOutput struct {
	Communities map[string][]string `json:"communities"`
}

// GetThreadInput defines the input parameters for the get_thread tool.
type GetThreadInput struct {
	PostID       string `json:"post_id" jsonschema:"Thread id"`
	CommentLimit int    `json:"comment_limit,omitempty" jsonschema:"Maximum number of comments to return (default 200)"`
}

// GetThreadOutput contains one thread.
type GetThreadOutput struct {
	Post     *Post     `json:"post,omitempty"`
	Comments []Comment `json:"comments"`
	// Found indicates whether the thread exists.
	Found bool `json:"found"`
}

// Post is a thread as returned by tools.
type Post struct {
	ID                 string     `json:"id"`
	Subreddit          string     `json:"subreddit"`
	Title              string     `json:"title"`
	Body               *string    `json:"body,omitempty"`
	Author             *string    `json:"author,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	Score              int        `json:"score"`
	URL                *string    `json:"url,omitempty"`
	NumComments        int        `json:"num_comments"`
	LastCommentAt      *time.Time `json:"last_comment_at,omitempty"`
	RecentCommentCount int        `json:"recent_comment_count"`
	ActivityRatio      float64    `json:"activity_ratio"`
}

// Comment is a reply as returned by tools.
type Comment struct {
	ID         string    `json:"id"`
	ParentID   string    `json:"parent_id"`
	ParentType string    `json:"parent_type"`
	Author     *string   `json:"author,omitempty"`
	Body       *string   `json:"body,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Score      int       `json:"score"`
}

func toPost(p *storage.Post) Post {
	return Post{
		ID: p.ID, Subreddit: p.Subreddit, Title: p.Title, Body: p.Body, Author: p.Author,
		CreatedAt: p.CreatedAt, Score: p.Score, URL: p.URL, NumComments: p.NumComments,
		LastCommentAt: p.LastCommentAt, RecentCommentCount: p.RecentCommentCount,
		ActivityRatio: p.ActivityRatio,
	}
}

func toComment(c *storage.Comment) Comment {
	return Comment{
		ID: c.ID, ParentID: c.ParentID, ParentType: c.ParentType, Author: c.Author,
		Body: c.Body, CreatedAt: c.CreatedAt, Score: c.Score,
	}
}

// OpportunitiesInput defines the input parameters for the opportunities tool.
type OpportunitiesInput struct {
	Community        string  `json:"community,omitempty" jsonschema:"Restrict to one community"`
	Limit            int     `json:"limit,omitempty" jsonschema:"Maximum number of threads to return (default 20)"`
	MinActivityRatio float64 `json:"min_activity_ratio,omitempty" jsonschema:"Drop threads whose activity ratio is below this (default 0)"`
}

// OpportunitiesOutput lists threads by descending activity ratio.
type OpportunitiesOutput struct {
	Posts []Post `json:"posts"`
}

// CreateAlertInput defines the input parameters for the create_alert tool.
type CreateAlertInput struct {
	Email string `json:"email" jsonschema:"Address to notify"`
	Query string `json:"query" jsonschema:"Query to watch"`
}

// CreateAlertOutput describes the stored alert.
type CreateAlertOutput struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Query     string    `json:"query"`
	CreatedAt time.Time `json:"created_at"`
}

// AnalyticsInput defines the input parameters for the analytics tool.
type AnalyticsInput struct {
	Query         string   `json:"query" jsonschema:"Natural language description of the need"`
	Community     string   `json:"community,omitempty" jsonschema:"Restrict matches to one community"`
	TopLimit      int      `json:"top_limit,omitempty" jsonschema:"Number of top posts and comments to include (default 10)"`
	MinSimilarity *float64 `json:"min_similarity,omitempty" jsonschema:"Cosine similarity threshold in [-1, 1]"`
}

// StatusInput defines the input parameters for the get_pipeline_status tool.
type StatusInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Number of recent ingest attempts to list (default 20)"`
}

// StatusOutput summarizes recent ingestion.
type StatusOutput struct {
	Runs          []IngestRun `json:"runs"`
	Running       int         `json:"running"`
	Failed        int         `json:"failed"`
	MinSimilarity float64     `json:"default_min_similarity"`
}

// IngestRun is one ingest_log attempt.
type IngestRun struct {
	File         string     `json:"file"`
	Kind         string     `json:"kind"`
	Year         int        `json:"year,omitempty"`
	Subreddit    string     `json:"subreddit"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	HeartbeatAt  time.Time  `json:"heartbeat_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	RowsInserted int64      `json:"rows_inserted"`
	RowsSkipped  int64      `json:"rows_skipped"`
	Error        string     `json:"error,omitempty"`
}
