package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nybblers/threaddemand/internal/storage"
)

func TestIndexParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  IndexParams
		wantErr bool
	}{
		{"defaults", IndexParams{M: 16, EfConstruction: 64}, false},
		{"minimum", IndexParams{M: 2, EfConstruction: 4}, false},
		{"m too small", IndexParams{M: 1, EfConstruction: 64}, true},
		{"m too large", IndexParams{M: 101, EfConstruction: 400}, true},
		{"ef below 2m", IndexParams{M: 16, EfConstruction: 31}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIndexParams)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckDimensions(t *testing.T) {
	ok := []Record{{ID: "a", Vector: []float32{1, 2, 3}}}
	assert.NoError(t, checkDimensions(ok, 3))

	bad := []Record{{ID: "a", Vector: []float32{1, 2, 3}}, {ID: "b", Vector: []float32{1}}}
	err := checkDimensions(bad, 3)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "(b)")
}

func TestPointID(t *testing.T) {
	a := PointID(postsCollection, "abc123")
	assert.Equal(t, a, PointID(postsCollection, "abc123"), "ids are stable")
	assert.NotEqual(t, a, PointID(commentsCollection, "abc123"), "collections do not collide")
	assert.NotEqual(t, a, PointID(postsCollection, "abc124"))
	assert.Len(t, a, 36)
}

func TestRecordIDs(t *testing.T) {
	assert.Equal(t, []string{"x", "y"}, recordIDs([]Record{{ID: "x"}, {ID: "y"}}))
}

func TestScanSetting(t *testing.T) {
	assert.Equal(t, "SET LOCAL enable_indexscan = off", scanSetting(MatchQuery{Exact: true, Limit: 5}))
	assert.Equal(t, "SET LOCAL hnsw.ef_search = 40", scanSetting(MatchQuery{Limit: 5}))
	assert.Equal(t, "SET LOCAL hnsw.ef_search = 1000", scanSetting(MatchQuery{Limit: 50000}))
}
