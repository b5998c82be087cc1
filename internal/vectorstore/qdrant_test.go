//go:build integration

package vectorstore

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingMarker stands in for the relational store and remembers which
// rows were marked, and with which text.
type recordingMarker struct {
	mu       sync.Mutex
	posts    map[string]string
	comments map[string]bool
	err      error
}

func newRecordingMarker() *recordingMarker {
	return &recordingMarker{posts: map[string]string{}, comments: map[string]bool{}}
}

func (m *recordingMarker) MarkPostsEmbedded(_ context.Context, ids, texts []string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for i, id := range ids {
		m.posts[id] = texts[i]
	}
	return nil
}

func (m *recordingMarker) MarkCommentsEmbedded(_ context.Context, ids []string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, id := range ids {
		m.comments[id] = true
	}
	return nil
}

// setupQdrant connects to a Qdrant test instance and recreates both
// collections at testDim. Skips the test if Qdrant is not running.
func setupQdrant(t *testing.T) (*QdrantStore, *recordingMarker) {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if v, err := strconv.Atoi(os.Getenv("QDRANT_PORT")); err == nil {
		port = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	marker := newRecordingMarker()
	s, err := NewQdrantStore(ctx, QdrantOptions{Host: host, Port: port, Dimension: testDim}, marker)
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Reset(context.Background()))
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s, marker
}

func TestQdrantStore_WriteThenMark(t *testing.T) {
	s, marker := setupQdrant(t)
	ctx := context.Background()
	community := "c_" + uuid.NewString()[:8]
	id := uuid.NewString()

	err := s.WritePostVectors(ctx, []Record{
		{ID: id, PostID: id, Subreddit: community, Text: "Title: a", CreatedAt: time.Now(), Vector: []float32{1, 0, 0}},
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Title: a", marker.posts[id], "the marker carries the embedded text")

	// A failed mark leaves a point without a marker, never the reverse.
	marker.err = errors.New("postgres down")
	orphan := uuid.NewString()
	err = s.WritePostVectors(ctx, []Record{
		{ID: orphan, PostID: orphan, Subreddit: community, Text: "Title: b", Vector: []float32{1, 0, 0}},
	}, time.Now())
	require.Error(t, err)
	assert.NotContains(t, marker.posts, orphan)

	matches, err := s.MatchPosts(ctx, MatchQuery{Vector: []float32{1, 0, 0}, Community: community, MinSimilarity: 0.9, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, matches, 2, "the point was stored before the mark failed")
}

func TestQdrantStore_WrongDimensionWritesNothing(t *testing.T) {
	s, marker := setupQdrant(t)

	err := s.WriteCommentVectors(context.Background(), []Record{{ID: "c1", Vector: []float32{1}}}, time.Now())
	assert.ErrorIs(t, err, errDimension)
	assert.Empty(t, marker.comments)
}

func TestQdrantStore_ThresholdAndCommunity(t *testing.T) {
	s, _ := setupQdrant(t)
	ctx := context.Background()
	golang := "c_" + uuid.NewString()[:8]
	rust := "c_" + uuid.NewString()[:8]

	recs := []Record{
		{ID: "near", Subreddit: golang, Vector: []float32{1, 0.1, 0}},
		{ID: "mid", Subreddit: golang, Vector: []float32{0.6, 0.8, 0}},
		{ID: "far", Subreddit: golang, Vector: []float32{0, 1, 0}},
		{ID: "other", Subreddit: rust, Vector: []float32{1, 0, 0}},
	}
	require.NoError(t, s.WritePostVectors(ctx, recs, time.Now()))

	for _, exact := range []bool{false, true} {
		matches, err := s.MatchPosts(ctx, MatchQuery{
			Vector: []float32{1, 0, 0}, Community: golang, MinSimilarity: 0.5, Limit: 10, Exact: exact,
		})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "near", matches[0].ID)
		assert.Equal(t, "mid", matches[1].ID)
		assert.InDelta(t, 0.6, matches[1].Similarity, 1e-3)
	}

	matches, err := s.MatchPosts(ctx, MatchQuery{Vector: []float32{1, 0, 0}, MinSimilarity: 0.99, Limit: 10})
	require.NoError(t, err)
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	assert.ElementsMatch(t, []string{"near", "other"}, ids)
}

func TestQdrantStore_CommentsCollection(t *testing.T) {
	s, marker := setupQdrant(t)
	ctx := context.Background()
	community := "c_" + uuid.NewString()[:8]

	require.NoError(t, s.WriteCommentVectors(ctx, []Record{
		{ID: "c1", PostID: "p1", Subreddit: community, Vector: []float32{0, 0, 1}},
	}, time.Now()))
	assert.True(t, marker.comments["c1"])

	matches, err := s.MatchComments(ctx, MatchQuery{Vector: []float32{0, 0, 1}, Community: community, MinSimilarity: 0.5, Limit: 5})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "c1", matches[0].ID)

	posts, err := s.MatchPosts(ctx, MatchQuery{Vector: []float32{0, 0, 1}, Community: community, MinSimilarity: 0.5, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestQdrantStore_EnsureIndex(t *testing.T) {
	s, _ := setupQdrant(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureIndex(ctx, IndexParams{M: 16, EfConstruction: 64}))
	require.NoError(t, s.EnsureIndex(ctx, IndexParams{M: 16, EfConstruction: 64}), "idempotent")
	require.NoError(t, s.EnsureIndex(ctx, IndexParams{M: 32, EfConstruction: 128, Rebuild: true}))

	err := s.EnsureIndex(ctx, IndexParams{M: 16, EfConstruction: 8})
	assert.ErrorIs(t, err, ErrInvalidIndexParams)
}
