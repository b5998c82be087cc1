//go:build integration

package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to DATABASE_URL and migrates. Skips the test when
// Postgres is not running.
func setupTestDB(t *testing.T) *DB {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		url = "postgres://localhost:5432/threaddemand_test"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := Open(ctx, url, 4)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(db.Close)
	return db
}

func strPtr(s string) *string { return &s }

func TestUpsertPosts_MergesMutableFields(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id := "it_" + uuid.NewString()[:8]
	created := time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC)
	post := &Post{
		ID: id, Subreddit: "golang", Title: "Need a queue", Body: strPtr("first body"),
		Author: strPtr("alice"), CreatedAt: created, Score: 3, NumComments: 1,
	}
	n, err := db.UpsertPosts(ctx, []*Post{post})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	updated := *post
	updated.Score = 42
	updated.Author = strPtr("mallory")
	updated.CreatedAt = created.Add(time.Hour)
	_, err = db.UpsertPosts(ctx, []*Post{&updated})
	require.NoError(t, err)

	got, err := db.GetPost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Score)
	assert.Equal(t, "alice", *got.Author)
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestStartIngest_SecondRunningAttemptConflicts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	key := IngestKey{File: "it_" + uuid.NewString() + "_submissions.zst", Year: 2023}
	now := time.Now().UTC()

	id, err := db.StartIngest(ctx, key, FileKindSubmissions, "golang", now)
	require.NoError(t, err)

	_, err = db.StartIngest(ctx, key, FileKindSubmissions, "golang", now)
	assert.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, db.FinishIngest(ctx, id, StatusComplete, 10, 1, "", now))
	logs, err := db.IngestLogsForKey(ctx, key)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, StatusComplete, logs[0].Status)
	assert.Equal(t, int64(10), logs[0].RowsInserted)
	assert.Equal(t, 2023, logs[0].Year)
}

func TestCommentUpsert_OrphanIsLinkedLater(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	postID := "it_" + uuid.NewString()[:8]
	community := "c_" + uuid.NewString()[:8]

	c := &Comment{
		ID: "itc_" + uuid.NewString()[:8], LinkID: postID, ParentID: "t3_" + postID, ParentType: "t3",
		Body: strPtr("me too"), CreatedAt: time.Now().UTC(),
	}
	_, err := db.UpsertComments(ctx, []*Comment{c})
	require.NoError(t, err)

	_, err = db.UpsertPosts(ctx, []*Post{{ID: postID, Subreddit: community, Title: "t", CreatedAt: time.Now().UTC()}})
	require.NoError(t, err)

	linked, err := db.LinkOrphanComments(ctx, community)
	require.NoError(t, err)
	assert.Equal(t, int64(1), linked)

	comments, err := db.ThreadComments(ctx, postID, 10)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, postID, *comments[0].PostID)
}

func TestFinishIngest_OneCompletePerKey(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	key := IngestKey{File: "it_" + uuid.NewString() + "_comments.zst"}
	now := time.Now().UTC()

	first, err := db.StartIngest(ctx, key, FileKindComments, "golang", now)
	require.NoError(t, err)
	require.NoError(t, db.FinishIngest(ctx, first, StatusComplete, 5, 0, "", now))

	// A second process that checked the key before the first finished.
	second, err := db.StartIngest(ctx, key, FileKindComments, "golang", now)
	require.NoError(t, err)
	err = db.FinishIngest(ctx, second, StatusComplete, 5, 0, "", now)
	assert.ErrorIs(t, err, ErrSuperseded)

	logs, err := db.RecentIngestLogs(ctx, 100)
	require.NoError(t, err)
	statuses := map[int64]IngestStatus{}
	for _, l := range logs {
		if l.Key() == key {
			statuses[l.ID] = l.Status
		}
	}
	assert.Equal(t, map[int64]IngestStatus{first: StatusComplete, second: StatusFailed}, statuses)
}

func TestCheckVectorConfig_RefusesSilentChanges(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ResetEmbeddings(ctx, "pgvector", 3))

	require.NoError(t, db.CheckVectorConfig(ctx, "pgvector", 3))
	assert.ErrorIs(t, db.CheckVectorConfig(ctx, "pgvector", 4), ErrDimensionMismatch)
	assert.ErrorIs(t, db.CheckVectorConfig(ctx, "qdrant", 3), ErrBackendMismatch)

	// The refused calls left the pinned values alone.
	require.NoError(t, db.CheckVectorConfig(ctx, "pgvector", 3))
}

func TestMarkPostsEmbedded_SkipsRebuiltText(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	community := "c_" + uuid.NewString()[:8]
	created := time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC)

	stable := &Post{ID: "it_" + uuid.NewString()[:8], Subreddit: community, Title: "a", Body: strPtr("one"), CreatedAt: created}
	edited := &Post{ID: "it_" + uuid.NewString()[:8], Subreddit: community, Title: "b", Body: strPtr("one"), CreatedAt: created}
	_, err := db.UpsertPosts(ctx, []*Post{stable, edited})
	require.NoError(t, err)
	_, err = db.SetReconstructedText(ctx, []TextUpdate{{PostID: stable.ID, Text: "Title: a"}, {PostID: edited.ID, Text: "Title: b"}})
	require.NoError(t, err)

	candidates, err := db.PostCandidates(ctx, community, "", 10)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	// The body changes after the candidates were listed.
	edited.Body = strPtr("two")
	_, err = db.UpsertPosts(ctx, []*Post{edited})
	require.NoError(t, err)
	_, err = db.SetReconstructedText(ctx, []TextUpdate{{PostID: edited.ID, Text: "Title: b\n\ntwo"}})
	require.NoError(t, err)

	ids := []string{candidates[0].ID, candidates[1].ID}
	texts := []string{candidates[0].Text, candidates[1].Text}
	require.NoError(t, db.MarkPostsEmbedded(ctx, ids, texts, time.Now().UTC()))

	remaining, err := db.PostCandidates(ctx, community, "", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, edited.ID, remaining[0].ID)
	assert.Equal(t, "Title: b\n\ntwo", remaining[0].Text)
}

func TestTopPostsByActivity_RatioFloor(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	community := "c_" + uuid.NewString()[:8]
	created := time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC)

	var posts []*Post
	for _, title := range []string{"hot", "warm", "cold"} {
		posts = append(posts, &Post{ID: "it_" + uuid.NewString()[:8], Subreddit: community, Title: title, CreatedAt: created})
	}
	_, err := db.UpsertPosts(ctx, posts)
	require.NoError(t, err)
	require.NoError(t, db.UpdateActivity(ctx, []ActivityUpdate{
		{PostID: posts[0].ID, RecentCount: 9, Ratio: 9},
		{PostID: posts[1].ID, RecentCount: 2, Ratio: 2},
	}))

	top, err := db.TopPostsByActivity(ctx, community, 0, 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, posts[0].ID, top[0].ID)

	top, err = db.TopPostsByActivity(ctx, community, 2, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, posts[1].ID, top[1].ID)
}
