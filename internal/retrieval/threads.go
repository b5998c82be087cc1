package retrieval

import (
	"context"
	"net/mail"
	"sort"
	"time"

	"github.com/nybblers/threaddemand/internal/storage"
)

const (
	DefaultWindowHours     = 24
	DefaultMinComments     = 3
	DefaultActiveLimit     = 20
	DefaultThreadComments  = 200
	DefaultOpportunityRows = 20
)

// Anchor decides where an activity window ends.
type Anchor string

const (
	// AnchorNow ends the window at the request time.
	AnchorNow Anchor = "now"
	// AnchorLastComment ends each thread's window at its own last comment,
	// which suits historical dumps.
	AnchorLastComment Anchor = "last_comment"
)

type ActiveThreadsRequest struct {
	Query         string
	Community     string
	WindowHours   int
	MinComments   int
	Limit         int
	MinSimilarity *float64
	Anchor        Anchor
	Now           *time.Time // defaults to the current time
}

type ActiveThread struct {
	PostID               string     `json:"post_id"`
	Title                string     `json:"title"`
	Subreddit            string     `json:"subreddit"`
	URL                  *string    `json:"url,omitempty"`
	LastCommentAt        *time.Time `json:"last_comment_at,omitempty"`
	Score                int        `json:"score"`
	NumComments          int        `json:"num_comments"`
	RecentComments       int        `json:"recent_comments"`
	Velocity             float64    `json:"velocity"`
	EstimatedImpressions int        `json:"estimated_impressions"`
	Similarity           float64    `json:"similarity,omitempty"`
}

type ActiveThreadsResponse struct {
	ActiveCount               int            `json:"active_count"`
	TotalEstimatedImpressions int            `json:"total_estimated_impressions"`
	WindowHours               int            `json:"window_hours"`
	Truncated                 bool           `json:"truncated,omitempty"`
	Threads                   []ActiveThread `json:"threads"`
}

// EstimatedImpressions is a heuristic reach figure, monotonic in score and
// comment volume. Negative scores count as zero.
func EstimatedImpressions(score, numComments int) int {
	return max(0, score)*4 + numComments*100
}

// ActiveThreads keeps the matches with at least MinComments comments in the
// window, fastest discussions first.
func (e *Engine) ActiveThreads(ctx context.Context, req ActiveThreadsRequest) (resp *ActiveThreadsResponse, err error) {
	defer func(start time.Time) { e.observe("active_threads", start, err) }(time.Now())

	if req.WindowHours == 0 {
		req.WindowHours = DefaultWindowHours
	}
	if req.Limit == 0 {
		req.Limit = DefaultActiveLimit
	}
	if err := validateWindow(req.WindowHours, req.Anchor); err != nil {
		return nil, err
	}
	if req.MinComments < 0 || req.Limit < 0 {
		return nil, invalid("min_comments and limit must not be negative")
	}

	set, err := e.matchPosts(ctx, req.Query, req.Community, req.MinSimilarity)
	if err != nil {
		return nil, err
	}
	posts := make([]*storage.Post, len(set.matches))
	similarity := make(map[string]float64, len(set.matches))
	for i, m := range set.matches {
		posts[i] = m.post
		similarity[m.post.ID] = m.similarity
	}

	threads, err := e.activity(ctx, posts, req.WindowHours, req.Anchor, req.Now, req.MinComments)
	if err != nil {
		return nil, err
	}
	for i := range threads {
		threads[i].Similarity = similarity[threads[i].PostID]
	}
	sortThreads(threads)
	resp = summarize(threads[:min(req.Limit, len(threads))], req.WindowHours)
	resp.Truncated = set.truncated
	return resp, nil
}

type ThreadsActivityRequest struct {
	PostIDs     []string
	WindowHours int
	Anchor      Anchor
	Now         *time.Time
}

// ThreadsActivity reports window activity for explicit posts, without a
// minimum. Unknown ids are left out.
func (e *Engine) ThreadsActivity(ctx context.Context, req ThreadsActivityRequest) (resp *ActiveThreadsResponse, err error) {
	defer func(start time.Time) { e.observe("threads_activity", start, err) }(time.Now())

	if req.WindowHours == 0 {
		req.WindowHours = DefaultWindowHours
	}
	if err := validateWindow(req.WindowHours, req.Anchor); err != nil {
		return nil, err
	}
	if len(req.PostIDs) == 0 {
		return summarize(nil, req.WindowHours), nil
	}
	posts, err := e.store.PostsByIDs(ctx, req.PostIDs)
	if err != nil {
		return nil, classify("load posts", err)
	}
	threads, err := e.activity(ctx, posts, req.WindowHours, req.Anchor, req.Now, 0)
	if err != nil {
		return nil, err
	}
	sortThreads(threads)
	return summarize(threads, req.WindowHours), nil
}

func validateWindow(hours int, anchor Anchor) error {
	if hours <= 0 {
		return invalid("window_hours must be positive, got %d", hours)
	}
	switch anchor {
	case "", AnchorNow, AnchorLastComment:
		return nil
	default:
		return invalid("anchor must be %q or %q, got %q", AnchorNow, AnchorLastComment, anchor)
	}
}

// activity counts each post's comments inside the window and keeps those
// with at least minComments.
func (e *Engine) activity(ctx context.Context, posts []*storage.Post, windowHours int, anchor Anchor, now *time.Time, minComments int) ([]ActiveThread, error) {
	if len(posts) == 0 {
		return []ActiveThread{}, nil
	}
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}

	window := time.Duration(windowHours) * time.Hour
	var counts map[string]int
	var err error
	if anchor == AnchorLastComment {
		counts, err = e.store.CommentCountsNearLast(ctx, ids, window)
	} else {
		end := e.now()
		if now != nil {
			end = now.UTC()
		}
		counts, err = e.store.CommentCountsSince(ctx, ids, end.Add(-window), end)
	}
	if err != nil {
		return nil, classify("count comments", err)
	}

	threads := []ActiveThread{}
	for _, p := range posts {
		recent := counts[p.ID]
		if recent < minComments {
			continue
		}
		threads = append(threads, ActiveThread{
			PostID:               p.ID,
			Title:                p.Title,
			Subreddit:            p.Subreddit,
			URL:                  p.URL,
			LastCommentAt:        p.LastCommentAt,
			Score:                p.Score,
			NumComments:          p.NumComments,
			RecentComments:       recent,
			Velocity:             float64(recent) / float64(windowHours),
			EstimatedImpressions: EstimatedImpressions(p.Score, p.NumComments),
		})
	}
	return threads, nil
}

func sortThreads(ts []ActiveThread) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].Velocity != ts[j].Velocity {
			return ts[i].Velocity > ts[j].Velocity
		}
		if ts[i].Similarity != ts[j].Similarity {
			return ts[i].Similarity > ts[j].Similarity
		}
		return ts[i].PostID < ts[j].PostID
	})
}

func summarize(threads []ActiveThread, windowHours int) *ActiveThreadsResponse {
	if threads == nil {
		threads = []ActiveThread{}
	}
	resp := &ActiveThreadsResponse{ActiveCount: len(threads), WindowHours: windowHours, Threads: threads}
	for _, t := range threads {
		resp.TotalEstimatedImpressions += t.EstimatedImpressions
	}
	return resp
}

// Thread is a post with its comments, oldest first.
type Thread struct {
	Post     *storage.Post      `json:"post"`
	Comments []*storage.Comment `json:"comments"`
}

// GetThread loads one post and up to commentLimit of its comments.
func (e *Engine) GetThread(ctx context.Context, postID string, commentLimit int) (th *Thread, err error) {
	defer func(start time.Time) { e.observe("get_thread", start, err) }(time.Now())

	if postID == "" {
		return nil, invalid("post id is empty")
	}
	if commentLimit <= 0 {
		commentLimit = DefaultThreadComments
	}
	post, err := e.store.GetPost(ctx, postID)
	if err != nil {
		return nil, classify("get post", err)
	}
	comments, err := e.store.ThreadComments(ctx, postID, commentLimit)
	if err != nil {
		return nil, classify("thread comments", err)
	}
	if comments == nil {
		comments = []*storage.Comment{}
	}
	return &Thread{Post: post, Comments: comments}, nil
}

type OpportunitiesRequest struct {
	Community        string
	Limit            int
	MinActivityRatio float64
}

// Opportunities lists posts by descending activity ratio, optionally in
// one community and above a ratio floor.
func (e *Engine) Opportunities(ctx context.Context, req OpportunitiesRequest) (posts []*storage.Post, err error) {
	defer func(start time.Time) { e.observe("opportunities", start, err) }(time.Now())

	if req.Limit < 0 || req.MinActivityRatio < 0 {
		return nil, invalid("limit and min_activity_ratio must not be negative")
	}
	if req.Limit == 0 {
		req.Limit = DefaultOpportunityRows
	}
	posts, err = e.store.TopPostsByActivity(ctx, req.Community, req.MinActivityRatio, req.Limit)
	if err != nil {
		return nil, classify("top posts", err)
	}
	if posts == nil {
		posts = []*storage.Post{}
	}
	return posts, nil
}

// CreateAlert saves a query for the notification subsystem together with
// its embedding.
func (e *Engine) CreateAlert(ctx context.Context, email, query string) (a *storage.Alert, err error) {
	defer func(start time.Time) { e.observe("create_alert", start, err) }(time.Now())

	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalid("email %q: %v", email, err)
	}
	query, err = normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	a, err = e.store.CreateAlert(ctx, email, query, vec)
	if err != nil {
		return nil, classify("create alert", err)
	}
	return a, nil
}
