// Package reconstruct builds the canonical text of a thread that gets
// embedded.
package reconstruct

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nybblers/threaddemand/internal/storage"
)

const defaultBatchSize = 200

// Store is the persistence the reconstructor needs.
type Store interface {
	PostsMissingText(ctx context.Context, q storage.TextQuery) ([]storage.ThreadSeed, error)
	SetReconstructedText(ctx context.Context, updates []storage.TextUpdate) (int64, error)
}

// Build renders "Title: {title}\n\n{body}", or "Title: {title}" when the
// body is empty, followed by an optional top comments section.
func Build(title string, body *string, comments []string) string {
	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(strings.TrimSpace(title))
	if body != nil {
		if text := strings.TrimSpace(*body); text != "" {
			b.WriteString("\n\n")
			b.WriteString(text)
		}
	}

	wrote := false
	for _, c := range comments {
		c = strings.TrimSpace(c)
		if c == "" || storage.IsDeletedMarker(c) {
			continue
		}
		if !wrote {
			b.WriteString("\n\nTop comments:")
			wrote = true
		}
		b.WriteString("\n- ")
		b.WriteString(c)
	}
	return b.String()
}

// Reconstructor fills reconstructed_text wherever it is null.
type Reconstructor struct {
	store       Store
	topComments int
	batchSize   int
	logger      *slog.Logger
}

// New creates a reconstructor appending up to topComments comments.
func New(store Store, topComments int, logger *slog.Logger) *Reconstructor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconstructor{store: store, topComments: topComments, batchSize: defaultBatchSize, logger: logger}
}

// ReconstructPosts builds text for the given posts that lack it.
func (r *Reconstructor) ReconstructPosts(ctx context.Context, postIDs []string) (int, error) {
	total := 0
	for start := 0; start < len(postIDs); start += r.batchSize {
		end := min(start+r.batchSize, len(postIDs))
		n, err := r.run(ctx, storage.TextQuery{PostIDs: postIDs[start:end]})
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReconstructCommunity builds text for every post of a community that lacks
// it, or the whole corpus when community is empty.
func (r *Reconstructor) ReconstructCommunity(ctx context.Context, community string) (int, error) {
	n, err := r.run(ctx, storage.TextQuery{Community: community})
	if err == nil {
		r.logger.Info("Text reconstruction complete", "community", community, "posts", n)
	}
	return n, err
}

func (r *Reconstructor) run(ctx context.Context, q storage.TextQuery) (int, error) {
	q.TopComments = r.topComments
	q.Limit = r.batchSize

	total := 0
	for {
		seeds, err := r.store.PostsMissingText(ctx, q)
		if err != nil {
			return total, fmt.Errorf("load posts missing text: %w", err)
		}
		if len(seeds) == 0 {
			return total, nil
		}

		updates := make([]storage.TextUpdate, len(seeds))
		for i, s := range seeds {
			updates[i] = storage.TextUpdate{PostID: s.PostID, Text: Build(s.Title, s.Body, s.TopComments)}
		}
		if _, err := r.store.SetReconstructedText(ctx, updates); err != nil {
			return total, fmt.Errorf("write reconstructed text: %w", err)
		}
		total += len(updates)
		r.logger.Debug("Reconstructed batch", "posts", len(updates), "total", total)

		if len(seeds) < q.Limit {
			return total, nil
		}
	}
}
