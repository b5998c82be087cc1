package retrieval

import (
	"context"
	"sort"
	"time"

	"github.com/nybblers/threaddemand/internal/markdown"
	"github.com/nybblers/threaddemand/internal/storage"
	"github.com/nybblers/threaddemand/internal/vectorstore"
)

const (
	DefaultSearchLimit = 10
	SnippetLength      = 300
	MatchBodyLength    = 500

	autoModerator = "AutoModerator"
)

type SearchRequest struct {
	Query         string
	Community     string
	Limit         int
	MinSimilarity *float64
}

type SearchResult struct {
	PostID        string     `json:"post_id"`
	Subreddit     string     `json:"subreddit"`
	Title         string     `json:"title"`
	Snippet       string     `json:"snippet"`
	Author        *string    `json:"author,omitempty"`
	URL           *string    `json:"url,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	Score         int        `json:"score"`
	NumComments   int        `json:"num_comments"`
	ActivityRatio float64    `json:"activity_ratio"`
	LastCommentAt *time.Time `json:"last_comment_at,omitempty"`
	Similarity    float64    `json:"similarity"`
}

type SearchResponse struct {
	Query         string         `json:"query"`
	MinSimilarity float64        `json:"min_similarity"`
	TotalMatches  int            `json:"total_matches"`
	Truncated     bool           `json:"truncated"`
	Results       []SearchResult `json:"results"`
}

// Search ranks matching posts by similarity, newest first on ties.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (resp *SearchResponse, err error) {
	defer func(start time.Time) { e.observe("search", start, err) }(time.Now())

	if req.Limit < 0 {
		return nil, invalid("limit must not be negative")
	}
	if req.Limit == 0 {
		req.Limit = DefaultSearchLimit
	}
	set, err := e.matchPosts(ctx, req.Query, req.Community, req.MinSimilarity)
	if err != nil {
		return nil, err
	}

	resp = &SearchResponse{
		Query:         set.query,
		MinSimilarity: set.threshold,
		TotalMatches:  len(set.matches),
		Truncated:     set.truncated,
		Results:       []SearchResult{},
	}
	for _, m := range set.matches[:min(req.Limit, len(set.matches))] {
		resp.Results = append(resp.Results, toSearchResult(m))
	}
	return resp, nil
}

func toSearchResult(m match) SearchResult {
	p := m.post
	return SearchResult{
		PostID:        p.ID,
		Subreddit:     p.Subreddit,
		Title:         p.Title,
		Snippet:       markdown.Snippet(snippetSource(p), SnippetLength),
		Author:        p.Author,
		URL:           p.URL,
		CreatedAt:     p.CreatedAt,
		Score:         p.Score,
		NumComments:   p.NumComments,
		ActivityRatio: p.ActivityRatio,
		LastCommentAt: p.LastCommentAt,
		Similarity:    m.similarity,
	}
}

// snippetSource prefers the body over the reconstructed text, whose
// "Title:" header repeats the title.
func snippetSource(p *storage.Post) string {
	if p.Body != nil && *p.Body != "" {
		return *p.Body
	}
	if p.ReconstructedText != nil {
		return *p.ReconstructedText
	}
	return p.Title
}

type DemandRequest struct {
	Query         string
	Community     string
	MinSimilarity *float64
}

// DemandCount sizes the demand behind a query. DistinctAuthorCount is a
// lower bound on people: deleted and anonymous authors are not counted.
// Truncated means the match set hit the configured cap and every count is
// a lower bound.
type DemandCount struct {
	MatchingPostCount   int     `json:"matching_post_count"`
	DistinctAuthorCount int     `json:"distinct_author_count"`
	TotalCommentCount   int     `json:"total_comment_count"`
	MinSimilarity       float64 `json:"min_similarity"`
	Truncated           bool    `json:"truncated"`
}

// Demand counts the match set.
func (e *Engine) Demand(ctx context.Context, req DemandRequest) (dc *DemandCount, err error) {
	defer func(start time.Time) { e.observe("demand_count", start, err) }(time.Now())

	set, err := e.matchPosts(ctx, req.Query, req.Community, req.MinSimilarity)
	if err != nil {
		return nil, err
	}
	return demandOf(set), nil
}

func demandOf(set *matchSet) *DemandCount {
	dc := &DemandCount{MatchingPostCount: len(set.matches), MinSimilarity: set.threshold, Truncated: set.truncated}
	authors := map[string]bool{}
	for _, m := range set.matches {
		dc.TotalCommentCount += m.post.NumComments
		if countableAuthor(m.post.Author) {
			authors[*m.post.Author] = true
		}
	}
	dc.DistinctAuthorCount = len(authors)
	return dc
}

func countableAuthor(a *string) bool {
	return a != nil && *a != "" && !storage.IsDeletedMarker(*a)
}

type TopMatchesRequest struct {
	Query         string
	Limit         int
	MinSimilarity *float64
}

// TopMatch is a post or a comment.
type TopMatch struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	Subreddit  string  `json:"subreddit"`
	Author     *string `json:"author,omitempty"`
	Body       string  `json:"body"`
	Score      int     `json:"score"`
	URL        *string `json:"url,omitempty"`
	Similarity float64 `json:"similarity"`
}

// TopMatches merges the best posts and comments for a query.
func (e *Engine) TopMatches(ctx context.Context, req TopMatchesRequest) (out []TopMatch, err error) {
	defer func(start time.Time) { e.observe("top_matches", start, err) }(time.Now())

	if req.Limit <= 0 {
		req.Limit = DefaultSearchLimit
	}
	set, err := e.matchPosts(ctx, req.Query, "", req.MinSimilarity)
	if err != nil {
		return nil, err
	}
	return e.topMatches(ctx, set, req.Limit)
}

func (e *Engine) topMatches(ctx context.Context, set *matchSet, limit int) ([]TopMatch, error) {
	out := []TopMatch{}
	for _, m := range set.matches[:min(limit, len(set.matches))] {
		p := m.post
		body := p.Title
		if p.Body != nil && *p.Body != "" {
			body = *p.Body
		}
		out = append(out, TopMatch{
			ID: p.ID, Kind: "post", Subreddit: p.Subreddit, Author: p.Author,
			Body: markdown.Truncate(body, MatchBodyLength), Score: p.Score, URL: p.URL,
			Similarity: m.similarity,
		})
	}

	hits, err := e.vectors.MatchComments(ctx, vectorstore.MatchQuery{
		Vector: set.vector, Community: set.community, MinSimilarity: set.threshold, Limit: limit,
	})
	if err != nil {
		return nil, classify("match comments", err)
	}
	if len(hits) > 0 {
		ids := make([]string, len(hits))
		sim := make(map[string]float64, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
			sim[h.ID] = h.Similarity
		}
		comments, err := e.store.CommentsByIDs(ctx, ids)
		if err != nil {
			return nil, classify("load comments", err)
		}
		for _, c := range comments {
			body := ""
			if c.Body != nil {
				body = *c.Body
			}
			out = append(out, TopMatch{
				ID: c.ID, Kind: "comment", Subreddit: c.Subreddit, Author: c.Author,
				Body: markdown.Truncate(body, MatchBodyLength), Score: c.Score,
				Similarity: sim[c.ID],
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	return out[:min(limit, len(out))], nil
}

type UsersRequest struct {
	Query         string
	Limit         int // matched posts considered
	MinSimilarity *float64
}

// UsersByCommunity lists distinct authors of matching posts per community,
// most similar first. Deleted authors and AutoModerator are left out.
func (e *Engine) UsersByCommunity(ctx context.Context, req UsersRequest) (out map[string][]string, err error) {
	defer func(start time.Time) { e.observe("users_by_community", start, err) }(time.Now())

	if req.Limit <= 0 {
		req.Limit = 50
	}
	set, err := e.matchPosts(ctx, req.Query, "", req.MinSimilarity)
	if err != nil {
		return nil, err
	}
	return usersOf(set, req.Limit), nil
}

func usersOf(set *matchSet, limit int) map[string][]string {
	out := map[string][]string{}
	seen := map[[2]string]bool{}
	considered := 0
	for _, m := range set.matches {
		a := m.post.Author
		if !countableAuthor(a) || *a == autoModerator {
			continue
		}
		if considered >= limit {
			break
		}
		considered++
		key := [2]string{m.post.Subreddit, *a}
		if seen[key] {
			continue
		}
		seen[key] = true
		out[m.post.Subreddit] = append(out[m.post.Subreddit], *a)
	}
	return out
}
