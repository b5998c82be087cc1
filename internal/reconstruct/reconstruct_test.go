package reconstruct

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nybblers/threaddemand/internal/storage"
)

func ptr(s string) *string { return &s }

func TestBuild(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		body     *string
		comments []string
		want     string
	}{
		{"title and body", "Need a CRM", ptr("Small team, cheap."), nil, "Title: Need a CRM\n\nSmall team, cheap."},
		{"nil body", "Need a CRM", nil, nil, "Title: Need a CRM"},
		{"blank body", "Need a CRM", ptr("   "), nil, "Title: Need a CRM"},
		{
			"with comments", "Need a CRM", ptr("body"), []string{"try X", "[deleted]", "", "try Y"},
			"Title: Need a CRM\n\nbody\n\nTop comments:\n- try X\n- try Y",
		},
		{"only deleted comments", "T", nil, []string{"[removed]"}, "Title: T"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Build(tt.title, tt.body, tt.comments))
		})
	}
}

// memStore keeps posts in memory and honours the "missing only" contract.
type memStore struct {
	posts   map[string]*storage.Post
	queries []storage.TextQuery
}

func (m *memStore) PostsMissingText(_ context.Context, q storage.TextQuery) ([]storage.ThreadSeed, error) {
	m.queries = append(m.queries, q)
	allowed := map[string]bool{}
	for _, id := range q.PostIDs {
		allowed[id] = true
	}
	var ids []string
	for id, p := range m.posts {
		if p.ReconstructedText != nil {
			continue
		}
		if len(q.PostIDs) > 0 && !allowed[id] {
			continue
		}
		if q.Community != "" && p.Subreddit != q.Community {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}
	seeds := make([]storage.ThreadSeed, len(ids))
	for i, id := range ids {
		seeds[i] = storage.ThreadSeed{PostID: id, Title: m.posts[id].Title, Body: m.posts[id].Body}
	}
	return seeds, nil
}

func (m *memStore) SetReconstructedText(_ context.Context, updates []storage.TextUpdate) (int64, error) {
	for _, u := range updates {
		text := u.Text
		m.posts[u.PostID].ReconstructedText = &text
	}
	return int64(len(updates)), nil
}

func TestReconstructCommunity_OnlyFillsMissing(t *testing.T) {
	existing := "Title: kept as is"
	store := &memStore{posts: map[string]*storage.Post{
		"a": {ID: "a", Subreddit: "golang", Title: "A", Body: ptr("alpha")},
		"b": {ID: "b", Subreddit: "golang", Title: "B", ReconstructedText: &existing},
		"c": {ID: "c", Subreddit: "golang", Title: "C"},
		"d": {ID: "d", Subreddit: "rust", Title: "D"},
	}}

	r := New(store, 0, nil)
	r.batchSize = 1
	n, err := r.ReconstructCommunity(context.Background(), "golang")
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, "Title: A\n\nalpha", *store.posts["a"].ReconstructedText)
	assert.Equal(t, existing, *store.posts["b"].ReconstructedText)
	assert.Equal(t, "Title: C", *store.posts["c"].ReconstructedText)
	assert.Nil(t, store.posts["d"].ReconstructedText)

	again, err := r.ReconstructCommunity(context.Background(), "golang")
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestReconstructPosts_RestrictsToIDs(t *testing.T) {
	store := &memStore{posts: map[string]*storage.Post{
		"a": {ID: "a", Subreddit: "golang", Title: "A"},
		"b": {ID: "b", Subreddit: "golang", Title: "B"},
	}}

	n, err := New(store, 3, nil).ReconstructPosts(context.Background(), []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Nil(t, store.posts["a"].ReconstructedText)
	require.NotEmpty(t, store.queries)
	assert.Equal(t, 3, store.queries[0].TopComments)
}
