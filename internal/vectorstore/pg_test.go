//go:build integration

package vectorstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nybblers/threaddemand/internal/storage"
)

const testDim = 3

func setupPG(t *testing.T) (*storage.DB, *PGStore) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		url = "postgres://localhost:5432/threaddemand_test"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := storage.Open(ctx, url, 4)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(context.Background()))
	require.NoError(t, db.ResetEmbeddings(context.Background(), "pgvector", testDim))

	s := NewPGStore(db.Pool(), testDim)
	require.NoError(t, s.EnsureSchema(context.Background()))
	return db, s
}

func TestPGStore_WriteAndMatchPosts(t *testing.T) {
	db, s := setupPG(t)
	ctx := context.Background()
	community := "c_" + uuid.NewString()[:8]
	now := time.Now().UTC()

	text := "Title: x"
	posts := []*storage.Post{
		{ID: uuid.NewString(), Subreddit: community, Title: "near", CreatedAt: now},
		{ID: uuid.NewString(), Subreddit: community, Title: "far", CreatedAt: now},
	}
	_, err := db.UpsertPosts(ctx, posts)
	require.NoError(t, err)
	_, err = db.SetReconstructedText(ctx, []storage.TextUpdate{{PostID: posts[0].ID, Text: text}, {PostID: posts[1].ID, Text: text}})
	require.NoError(t, err)

	err = s.WritePostVectors(ctx, []Record{
		{ID: posts[0].ID, Text: text, Vector: []float32{1, 0, 0}},
		{ID: posts[1].ID, Text: text, Vector: []float32{0, 1, 0}},
	}, now)
	require.NoError(t, err)

	for _, exact := range []bool{false, true} {
		matches, err := s.MatchPosts(ctx, MatchQuery{
			Vector: []float32{1, 0.1, 0}, Community: community, MinSimilarity: 0.5, Limit: 10, Exact: exact,
		})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, posts[0].ID, matches[0].ID)
		assert.Greater(t, matches[0].Similarity, 0.9)
	}

	require.NoError(t, s.EnsureIndex(ctx, IndexParams{M: 16, EfConstruction: 64}))
	require.NoError(t, s.EnsureIndex(ctx, IndexParams{M: 16, EfConstruction: 64, Rebuild: true}))
}

func TestPGStore_WriteRejectsWrongDimension(t *testing.T) {
	_, s := setupPG(t)
	err := s.WritePostVectors(context.Background(), []Record{{ID: "x", Vector: []float32{1}}}, time.Now())
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestPGStore_StaleTextIsNotMarked(t *testing.T) {
	db, s := setupPG(t)
	ctx := context.Background()
	community := "c_" + uuid.NewString()[:8]
	now := time.Now().UTC()

	post := &storage.Post{ID: uuid.NewString(), Subreddit: community, Title: "t", CreatedAt: now}
	_, err := db.UpsertPosts(ctx, []*storage.Post{post})
	require.NoError(t, err)
	_, err = db.SetReconstructedText(ctx, []storage.TextUpdate{{PostID: post.ID, Text: "Title: t\n\nnew body"}})
	require.NoError(t, err)

	err = s.WritePostVectors(ctx, []Record{{ID: post.ID, Text: "Title: t\n\nold body", Vector: []float32{1, 0, 0}}}, now)
	require.NoError(t, err)

	candidates, err := db.PostCandidates(ctx, community, "", 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1, "the post still needs a vector of its current text")
}

func TestPGStore_ExactScanIgnoresEfSearchBound(t *testing.T) {
	db, s := setupPG(t)
	ctx := context.Background()
	community := "c_" + uuid.NewString()[:8]
	now := time.Now().UTC()
	const n = 60

	var posts []*storage.Post
	var texts []storage.TextUpdate
	var recs []Record
	for i := range n {
		p := &storage.Post{ID: fmt.Sprintf("%s_%03d", community, i), Subreddit: community, Title: "t", CreatedAt: now}
		posts = append(posts, p)
		texts = append(texts, storage.TextUpdate{PostID: p.ID, Text: "Title: t"})
		recs = append(recs, Record{ID: p.ID, Text: "Title: t", Vector: []float32{1, float32(i) / 1000, 0}})
	}
	_, err := db.UpsertPosts(ctx, posts)
	require.NoError(t, err)
	_, err = db.SetReconstructedText(ctx, texts)
	require.NoError(t, err)
	require.NoError(t, s.WritePostVectors(ctx, recs, now))
	require.NoError(t, s.EnsureIndex(ctx, IndexParams{M: 16, EfConstruction: 64}))

	matches, err := s.MatchPosts(ctx, MatchQuery{
		Vector: []float32{1, 0, 0}, Community: community, MinSimilarity: 0.9, Limit: 10000, Exact: true,
	})
	require.NoError(t, err)
	assert.Len(t, matches, n)
}
