// Package backfill embeds rows that have no vector yet. Progress is the
// embedded marker itself, so a killed run resumes where it stopped.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nybblers/threaddemand/internal/embedding"
	"github.com/nybblers/threaddemand/internal/metrics"
	"github.com/nybblers/threaddemand/internal/storage"
	"github.com/nybblers/threaddemand/internal/vectorstore"
)

// Kind selects which rows a run embeds.
type Kind string

const (
	KindPosts    Kind = "posts"
	KindComments Kind = "comments"
)

const (
	DefaultBatchSize        = 100
	DefaultMaxFailedBatches = 5
)

var (
	ErrTooManyFailures = errors.New("too many consecutive failed batches")
	ErrUnknownKind     = errors.New("unknown backfill kind")
)

// Source lists rows that still need a vector, in id order after afterID.
type Source interface {
	PostCandidates(ctx context.Context, community, afterID string, limit int) ([]storage.EmbedCandidate, error)
	CommentCandidates(ctx context.Context, community, afterID string, limit int) ([]storage.EmbedCandidate, error)
}

// Embedder turns texts into vectors of a fixed dimension.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Writer persists vectors together with their embedded markers.
type Writer interface {
	WritePostVectors(ctx context.Context, recs []vectorstore.Record, at time.Time) error
	WriteCommentVectors(ctx context.Context, recs []vectorstore.Record, at time.Time) error
}

// Options scopes one run. Limit caps the candidates attempted; zero means
// no cap.
type Options struct {
	Kind             Kind
	Community        string
	BatchSize        int
	Limit            int
	MaxFailedBatches int
}

// Result summarises a run.
type Result struct {
	Batches       int
	Embedded      int
	FailedBatches int
	FailedRows    int
}

// Worker runs backfill passes.
type Worker struct {
	source   Source
	embedder Embedder
	writer   Writer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Worker. m may be nil.
func New(source Source, embedder Embedder, writer Writer, m *metrics.Metrics, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		source:   source,
		embedder: embedder,
		writer:   writer,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run pages through candidates by id. A failed batch is logged and skipped;
// its rows stay candidates for the next run. The run aborts once
// MaxFailedBatches batches fail in a row, on a dimension mismatch, or when
// listing candidates fails.
func (w *Worker) Run(ctx context.Context, opts Options) (Result, error) {
	var res Result
	if opts.Kind != KindPosts && opts.Kind != KindComments {
		return res, fmt.Errorf("%w: %q", ErrUnknownKind, opts.Kind)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxFailedBatches <= 0 {
		opts.MaxFailedBatches = DefaultMaxFailedBatches
	}

	log := w.logger.With("kind", opts.Kind, "community", opts.Community)
	afterID := ""
	attempted := 0
	consecutive := 0

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		size := opts.BatchSize
		if opts.Limit > 0 {
			if attempted >= opts.Limit {
				break
			}
			size = min(size, opts.Limit-attempted)
		}

		candidates, err := w.candidates(ctx, opts, afterID, size)
		if err != nil {
			return res, fmt.Errorf("list candidates: %w", err)
		}
		if len(candidates) == 0 {
			break
		}
		afterID = candidates[len(candidates)-1].ID
		attempted += len(candidates)
		res.Batches++

		start := time.Now()
		err = w.embedBatch(ctx, opts.Kind, candidates)
		w.metrics.EmbedBatch(string(opts.Kind), len(candidates), time.Since(start), err)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if errors.Is(err, storage.ErrDimensionMismatch) || errors.Is(err, embedding.ErrDimensionMismatch) {
				return res, err
			}
			res.FailedBatches++
			res.FailedRows += len(candidates)
			consecutive++
			log.Warn("batch failed, skipping", "first_id", candidates[0].ID, "last_id", afterID, "error", err)
			if consecutive >= opts.MaxFailedBatches {
				return res, fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyFailures, consecutive, err)
			}
			continue
		}

		consecutive = 0
		res.Embedded += len(candidates)
		log.Debug("batch embedded", "rows", len(candidates), "last_id", afterID, "total", res.Embedded)
	}

	log.Info("backfill finished", "embedded", res.Embedded, "batches", res.Batches, "failed_batches", res.FailedBatches)
	return res, nil
}

func (w *Worker) candidates(ctx context.Context, opts Options, afterID string, limit int) ([]storage.EmbedCandidate, error) {
	if opts.Kind == KindPosts {
		return w.source.PostCandidates(ctx, opts.Community, afterID, limit)
	}
	return w.source.CommentCandidates(ctx, opts.Community, afterID, limit)
}

func (w *Worker) embedBatch(ctx context.Context, kind Kind, candidates []storage.EmbedCandidate) error {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}

	vectors, err := w.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != len(candidates) {
		return fmt.Errorf("embed: got %d vectors for %d texts", len(vectors), len(candidates))
	}

	recs := make([]vectorstore.Record, len(candidates))
	for i, c := range candidates {
		recs[i] = vectorstore.Record{
			ID:        c.ID,
			PostID:    c.PostID,
			Subreddit: c.Subreddit,
			CreatedAt: c.CreatedAt,
			Text:      c.Text,
			Vector:    vectors[i],
		}
	}

	at := w.now()
	if kind == KindPosts {
		err = w.writer.WritePostVectors(ctx, recs, at)
	} else {
		err = w.writer.WriteCommentVectors(ctx, recs, at)
	}
	if err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	return nil
}
