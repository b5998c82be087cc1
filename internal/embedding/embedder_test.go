package embedding

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

// fakeProvider answers the embeddings endpoint with vectors of size dim.
// The first failFirst requests get status failStatus.
func fakeProvider(t *testing.T, dim int, failFirst int32, failStatus int) (*httptest.Server, *atomic.Int32, *[]embedRequest) {
	t.Helper()
	var calls atomic.Int32
	var seen []embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		if n <= failFirst {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(failStatus)
			fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
			return
		}
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = append(seen, req)

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			vec := make([]float64, dim)
			vec[0] = float64(len(seen)*1000 + i)
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": vec}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		}))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &seen
}

func newTestEmbedder(t *testing.T, srv *httptest.Server, opts Options) *Embedder {
	t.Helper()
	client, err := NewClient(ClientConfig{BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	e := NewEmbedder(client, opts)
	e.initialInterval = 10 * time.Millisecond
	return e
}

func TestNewClient_RequiresKeyForHostedProvider(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{BaseURL: "http://localhost:11434/v1/"})
	assert.NoError(t, err)
}

func TestGenerateEmbeddings_BatchesAndPreservesOrder(t *testing.T) {
	srv, calls, seen := fakeProvider(t, 4, 0, 0)
	e := newTestEmbedder(t, srv, Options{Model: "nomic-embed-text", Dimension: 4, BatchSize: 2})

	vecs, err := e.GenerateEmbeddings(t.Context(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, int32(2), calls.Load())

	assert.Equal(t, float32(1000), vecs[0][0])
	assert.Equal(t, float32(1001), vecs[1][0])
	assert.Equal(t, float32(2000), vecs[2][0])

	// Non text-embedding-3 models do not get a dimensions parameter.
	assert.Zero(t, (*seen)[0].Dimensions)
}

func TestGenerateEmbeddings_SendsDimensionsForV3Models(t *testing.T) {
	srv, _, seen := fakeProvider(t, 8, 0, 0)
	e := newTestEmbedder(t, srv, Options{Model: "text-embedding-3-small", Dimension: 8})

	_, err := e.GenerateEmbeddings(t.Context(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, *seen, 1)
	assert.Equal(t, 8, (*seen)[0].Dimensions)
	assert.Equal(t, "text-embedding-3-small", (*seen)[0].Model)
}

func TestGenerateEmbeddings_DimensionMismatch(t *testing.T) {
	srv, calls, _ := fakeProvider(t, 3, 0, 0)
	e := newTestEmbedder(t, srv, Options{Model: "m", Dimension: 4})

	_, err := e.GenerateEmbeddings(t.Context(), []string{"x"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, int32(1), calls.Load(), "mismatch is not retried")
}

func TestGenerateEmbeddings_RetriesRateLimit(t *testing.T) {
	srv, calls, _ := fakeProvider(t, 2, 2, http.StatusTooManyRequests)
	e := newTestEmbedder(t, srv, Options{Model: "m", Dimension: 2, RetryWindow: 5 * time.Second})

	vecs, err := e.GenerateEmbeddings(t.Context(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerateEmbeddings_BadRequestIsPermanent(t *testing.T) {
	srv, calls, _ := fakeProvider(t, 2, 5, http.StatusBadRequest)
	e := newTestEmbedder(t, srv, Options{Model: "m", Dimension: 2, RetryWindow: 5 * time.Second})

	_, err := e.GenerateEmbeddings(t.Context(), []string{"x"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPrepare(t *testing.T) {
	assert.Equal(t, "(empty)", Prepare("   "))
	assert.Equal(t, "hello", Prepare("  hello\n"))

	long := strings.Repeat("é", MaxChars+10)
	got := Prepare(long)
	assert.Equal(t, MaxChars, len([]rune(got)))
}

func TestToFloat32(t *testing.T) {
	assert.Equal(t, []float32{1.5, -2}, toFloat32([]float64{1.5, -2}))
}
