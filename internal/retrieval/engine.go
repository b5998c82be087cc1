// Package retrieval answers similarity searches and demand analytics. Every
// operation starts from one match set: the posts whose vector is at least
// MinSimilarity away from the query, so their numbers stay comparable.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/nybblers/threaddemand/internal/metrics"
	"github.com/nybblers/threaddemand/internal/storage"
	"github.com/nybblers/threaddemand/internal/vectorstore"
)

const (
	DefaultMinSimilarity = 0.3
	DefaultMaxMatches    = 10000
	DefaultCacheSize     = 256
)

// Store reads rows from the relational store.
type Store interface {
	PostsByIDs(ctx context.Context, ids []string) ([]*storage.Post, error)
	GetPost(ctx context.Context, id string) (*storage.Post, error)
	ThreadComments(ctx context.Context, postID string, limit int) ([]*storage.Comment, error)
	CommentsByIDs(ctx context.Context, ids []string) ([]*storage.CommentHit, error)
	CommentCountsSince(ctx context.Context, postIDs []string, since, until time.Time) (map[string]int, error)
	CommentCountsNearLast(ctx context.Context, postIDs []string, window time.Duration) (map[string]int, error)
	TopPostsByActivity(ctx context.Context, community string, minRatio float64, limit int) ([]*storage.Post, error)
	CreateAlert(ctx context.Context, email, query string, embedding []float32) (*storage.Alert, error)
}

// Vectors answers threshold similarity queries.
type Vectors interface {
	MatchPosts(ctx context.Context, q vectorstore.MatchQuery) ([]vectorstore.Match, error)
	MatchComments(ctx context.Context, q vectorstore.MatchQuery) ([]vectorstore.Match, error)
}

// Embedder embeds query text.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Options tunes the engine.
type Options struct {
	MinSimilarity *float64 // default threshold when a request sets none; nil means DefaultMinSimilarity
	MaxMatches    int      // cap on the shared match set
	CacheSize     int      // query embeddings kept in memory
}

// Engine is safe for concurrent use.
type Engine struct {
	store         Store
	vectors       Vectors
	embedder      Embedder
	cache         *lru.Cache
	opts          Options
	minSimilarity float64
	metrics       *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an Engine. m and logger may be nil.
func NewEngine(store Store, vectors Vectors, embedder Embedder, opts Options, m *metrics.Metrics, logger *slog.Logger) (*Engine, error) {
	minSimilarity := DefaultMinSimilarity
	if opts.MinSimilarity != nil {
		minSimilarity = *opts.MinSimilarity
	}
	if minSimilarity < -1 || minSimilarity > 1 {
		return nil, fmt.Errorf("default min similarity must be within [-1, 1], got %g", minSimilarity)
	}
	if opts.MaxMatches <= 0 {
		opts.MaxMatches = DefaultMaxMatches
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	cache, err := lru.New(opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:         store,
		vectors:       vectors,
		embedder:      embedder,
		cache:         cache,
		opts:          opts,
		minSimilarity: minSimilarity,
		metrics:       m,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// MinSimilarity is the threshold used when a request sets none.
func (e *Engine) MinSimilarity() float64 {
	return e.minSimilarity
}

func (e *Engine) observe(op string, start time.Time, err error) {
	e.metrics.Retrieval(op, outcome(err), time.Since(start))
	if err != nil && outcome(err) == "unavailable" {
		e.logger.Warn("Retrieval unavailable", "op", op, "error", err)
	}
}

// threshold resolves a request's optional threshold.
func (e *Engine) threshold(v *float64) (float64, error) {
	if v == nil {
		return e.minSimilarity, nil
	}
	if *v < -1 || *v > 1 {
		return 0, invalid("min_similarity must be within [-1, 1], got %g", *v)
	}
	return *v, nil
}

func normalizeQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", invalid("query is empty")
	}
	return q, nil
}

// embedQuery returns the query vector, from cache when possible.
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if v, ok := e.cache.Get(query); ok {
		e.metrics.CacheLookup(true)
		return v.([]float32), nil
	}
	e.metrics.CacheLookup(false)

	vecs, err := e.embedder.GenerateEmbeddings(ctx, []string{query})
	if err != nil {
		return nil, classify("embed query", err)
	}
	if len(vecs) != 1 {
		return nil, classify("embed query", fmt.Errorf("got %d vectors for one query", len(vecs)))
	}
	e.cache.Add(query, vecs[0])
	return vecs[0], nil
}

// match is one post of the shared match set.
type match struct {
	post       *storage.Post
	similarity float64
}

// matchSet is the outcome of the shared primitive. truncated is set when
// the vector backend returned MaxMatches hits, so more posts may clear the
// threshold than were counted.
type matchSet struct {
	query     string
	community string
	vector    []float32
	threshold float64
	matches   []match
	truncated bool
}

// matchPosts embeds the query, collects every post vector at or above the
// threshold, loads the rows and drops any row not marked embedded. Matches
// are ordered by similarity, then newest first, then id. The scan is exact:
// counts built on the set must not depend on an index's candidate list.
func (e *Engine) matchPosts(ctx context.Context, query, community string, minSimilarity *float64) (*matchSet, error) {
	query, err := normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	threshold, err := e.threshold(minSimilarity)
	if err != nil {
		return nil, err
	}
	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := e.vectors.MatchPosts(ctx, vectorstore.MatchQuery{
		Vector:        vec,
		Community:     community,
		MinSimilarity: threshold,
		Limit:         e.opts.MaxMatches,
		Exact:         true,
	})
	if err != nil {
		return nil, classify("match posts", err)
	}

	set := &matchSet{query: query, community: community, vector: vec, threshold: threshold}
	if len(hits) >= e.opts.MaxMatches {
		set.truncated = true
		e.logger.Warn("Match set truncated", "query", query, "community", community, "threshold", threshold, "max_matches", e.opts.MaxMatches)
	}
	if len(hits) == 0 {
		return set, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	posts, err := e.store.PostsByIDs(ctx, ids)
	if err != nil {
		return nil, classify("load posts", err)
	}
	byID := make(map[string]*storage.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}

	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		p, ok := byID[h.ID]
		if !ok || p.EmbeddedAt == nil || seen[h.ID] {
			continue
		}
		if community != "" && p.Subreddit != community {
			continue
		}
		seen[h.ID] = true
		set.matches = append(set.matches, match{post: p, similarity: h.Similarity})
	}
	sortMatches(set.matches)
	return set, nil
}

func sortMatches(ms []match) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if a.similarity != b.similarity {
			return a.similarity > b.similarity
		}
		if !a.post.CreatedAt.Equal(b.post.CreatedAt) {
			return a.post.CreatedAt.After(b.post.CreatedAt)
		}
		return a.post.ID < b.post.ID
	})
}

func (s *matchSet) ids() []string {
	ids := make([]string, len(s.matches))
	for i, m := range s.matches {
		ids[i] = m.post.ID
	}
	return ids
}
