package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"golang.org/x/time/rate"
)

const (
	// DefaultModel is the hosted model; it produces 1536-dim vectors.
	DefaultModel = "text-embedding-3-small"

	// DefaultBatchSize keeps each request well below provider token limits.
	DefaultBatchSize = 100

	// MaxChars bounds each input; longer texts are cut.
	MaxChars = 24000
)

// Options configures an Embedder.
type Options struct {
	Model             string
	Dimension         int
	BatchSize         int
	RequestsPerMinute int           // 0 disables client-side throttling
	RetryWindow       time.Duration // total time spent retrying one batch
}

// Embedder generates fixed-dimension embeddings. It batches requests,
// throttles them to the provider's rate, and retries transient failures
// with exponential backoff.
type Embedder struct {
	client      *Client
	model       string
	dimension   int
	batchSize   int
	limiter     *rate.Limiter
	retryWindow time.Duration

	initialInterval time.Duration
}

// NewEmbedder creates an Embedder. Zero options fall back to defaults.
func NewEmbedder(client *Client, opts Options) *Embedder {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Dimension <= 0 {
		opts.Dimension = 1536
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.RetryWindow <= 0 {
		opts.RetryWindow = 30 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RequestsPerMinute))
	}
	return &Embedder{
		client:          client,
		model:           opts.Model,
		dimension:       opts.Dimension,
		batchSize:       opts.BatchSize,
		limiter:         rate.NewLimiter(limit, 1),
		retryWindow:     opts.RetryWindow,
		initialInterval: 500 * time.Millisecond,
	}
}

// Dimension is the vector size every returned embedding has.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// Model is the provider model name.
func (e *Embedder) Model() string {
	return e.model
}

// GenerateEmbeddings returns one vector per text, in input order.
func (e *Embedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	var allEmbeddings [][]float32

	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		embeddings, err := e.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	return allEmbeddings, nil
}

// embedBatchWithRetry embeds one batch. Rate limits, server errors and
// transport failures are retried; other API errors and dimension
// mismatches fail immediately.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = Prepare(t)
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: inputs,
		},
		Model: openai.EmbeddingModel(e.model),
	}
	if strings.HasPrefix(e.model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	var embeddings [][]float32
	operation := func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		resp, err := e.client.client.Embeddings.New(ctx, params)
		if err != nil {
			if isRetryable(ctx, err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Data) != len(inputs) {
			return backoff.Permanent(fmt.Errorf("%w: got %d for %d inputs", ErrShortResponse, len(resp.Data), len(inputs)))
		}

		out := make([][]float32, len(inputs))
		for _, data := range resp.Data {
			idx := int(data.Index)
			if idx < 0 || idx >= len(out) {
				return backoff.Permanent(fmt.Errorf("provider returned out-of-range index %d", idx))
			}
			if len(data.Embedding) != e.dimension {
				return backoff.Permanent(fmt.Errorf("%w: got %d, expected %d",
					ErrDimensionMismatch, len(data.Embedding), e.dimension))
			}
			out[idx] = toFloat32(data.Embedding)
		}
		embeddings = out
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialInterval
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = e.retryWindow

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return embeddings, err
}

// Prepare normalises one input: trims it, substitutes a placeholder for
// empty text, and cuts it to MaxChars runes.
func Prepare(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "(empty)"
	}
	if len(text) > MaxChars {
		runes := []rune(text)
		if len(runes) > MaxChars {
			text = string(runes[:MaxChars])
		}
	}
	return text
}

// isRetryable treats rate limits, 5xx responses and transport errors as
// transient.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return true
}

// toFloat32 converts []float64 to []float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
