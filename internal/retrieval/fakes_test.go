package retrieval

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/nybblers/threaddemand/internal/storage"
	"github.com/nybblers/threaddemand/internal/vectorstore"
)

type fakeStore struct {
	posts        map[string]*storage.Post
	comments     map[string]*storage.CommentHit
	commentTimes map[string][]time.Time
	alerts       []*storage.Alert
	err          error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		posts:        map[string]*storage.Post{},
		comments:     map[string]*storage.CommentHit{},
		commentTimes: map[string][]time.Time{},
	}
}

func (s *fakeStore) PostsByIDs(_ context.Context, ids []string) ([]*storage.Post, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*storage.Post
	for _, id := range ids {
		if p, ok := s.posts[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) GetPost(_ context.Context, id string) (*storage.Post, error) {
	if p, ok := s.posts[id]; ok {
		return p, nil
	}
	return nil, storage.ErrPostNotFound
}

func (s *fakeStore) ThreadComments(_ context.Context, postID string, limit int) ([]*storage.Comment, error) {
	var out []*storage.Comment
	for _, c := range s.comments {
		if c.PostID != nil && *c.PostID == postID {
			out = append(out, &c.Comment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) CommentsByIDs(_ context.Context, ids []string) ([]*storage.CommentHit, error) {
	var out []*storage.CommentHit
	for _, id := range ids {
		if c, ok := s.comments[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) CommentCountsSince(_ context.Context, ids []string, since, until time.Time) (map[string]int, error) {
	counts := map[string]int{}
	for _, id := range ids {
		for _, t := range s.commentTimes[id] {
			if !t.Before(since) && !t.After(until) {
				counts[id]++
			}
		}
	}
	return counts, nil
}

func (s *fakeStore) CommentCountsNearLast(_ context.Context, ids []string, window time.Duration) (map[string]int, error) {
	counts := map[string]int{}
	for _, id := range ids {
		times := s.commentTimes[id]
		if len(times) == 0 {
			continue
		}
		last := times[0]
		for _, t := range times {
			if t.After(last) {
				last = t
			}
		}
		for _, t := range times {
			if !t.Before(last.Add(-window)) {
				counts[id]++
			}
		}
	}
	return counts, nil
}

func (s *fakeStore) TopPostsByActivity(_ context.Context, community string, minRatio float64, limit int) ([]*storage.Post, error) {
	var out []*storage.Post
	for _, p := range s.posts {
		if (community == "" || p.Subreddit == community) && p.ActivityRatio >= minRatio {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivityRatio > out[j].ActivityRatio })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) CreateAlert(_ context.Context, email, query string, embedding []float32) (*storage.Alert, error) {
	a := &storage.Alert{ID: int64(len(s.alerts) + 1), UserEmail: email, Query: query, CreatedAt: time.Now()}
	s.alerts = append(s.alerts, a)
	return a, nil
}

// fakeVectors computes exact cosine similarity over stored vectors.
type fakeVectors struct {
	posts    map[string][]float32
	comments map[string][]float32
	store    *fakeStore
	err      error
	queries  []vectorstore.MatchQuery
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (v *fakeVectors) match(vectors map[string][]float32, q vectorstore.MatchQuery, subreddit func(string) string) ([]vectorstore.Match, error) {
	v.queries = append(v.queries, q)
	if v.err != nil {
		return nil, v.err
	}
	var out []vectorstore.Match
	for id, vec := range vectors {
		if q.Community != "" && subreddit(id) != q.Community {
			continue
		}
		if s := cosine(q.Vector, vec); s >= q.MinSimilarity {
			out = append(out, vectorstore.Match{ID: id, Similarity: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (v *fakeVectors) MatchPosts(_ context.Context, q vectorstore.MatchQuery) ([]vectorstore.Match, error) {
	return v.match(v.posts, q, func(id string) string { return v.store.posts[id].Subreddit })
}

func (v *fakeVectors) MatchComments(_ context.Context, q vectorstore.MatchQuery) ([]vectorstore.Match, error) {
	return v.match(v.comments, q, func(id string) string { return v.store.comments[id].Subreddit })
}

type fakeEmbedder struct {
	vectors map[string][]float32
	calls   int
	err     error
}

func (e *fakeEmbedder) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := e.vectors[t]
		if !ok {
			return nil, errors.New("no vector for " + t)
		}
		out[i] = v
	}
	return out, nil
}

var errDown = errors.New("connection refused")
