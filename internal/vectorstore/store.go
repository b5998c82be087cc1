// Package vectorstore keeps post and comment vectors and answers
// cosine-similarity queries over them. Two backends exist: pgvector
// columns inside the relational store, and Qdrant collections.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidIndexParams = errors.New("invalid index parameters")
	ErrUnknownBackend     = errors.New("unknown vector backend")
)

// Record is one vector to store. PostID and Subreddit travel as payload so
// a backend can filter by community without a join. Text is the input the
// vector was computed from; a post is only marked embedded while its
// reconstructed text still equals it.
type Record struct {
	ID        string
	PostID    string
	Subreddit string
	CreatedAt time.Time
	Text      string
	Vector    []float32
}

// Match is one stored vector at or above the requested similarity.
type Match struct {
	ID         string
	Similarity float64
}

// MatchQuery selects every vector whose cosine similarity to Vector is at
// least MinSimilarity, capped at Limit, optionally inside one community.
// Exact bypasses the approximate index, whose candidate list would
// otherwise bound how many vectors can be returned.
type MatchQuery struct {
	Vector        []float32
	Community     string
	MinSimilarity float64
	Limit         int
	Exact         bool
}

// IndexParams tunes the HNSW graph. M is the per-node fan-out and
// EfConstruction the candidate list size used while building.
type IndexParams struct {
	M              int
	EfConstruction int
	Rebuild        bool
}

func (p IndexParams) validate() error {
	if p.M < 2 || p.M > 100 {
		return fmt.Errorf("%w: m must be in [2, 100], got %d", ErrInvalidIndexParams, p.M)
	}
	if p.EfConstruction < 2*p.M {
		return fmt.Errorf("%w: ef_construction must be at least 2*m, got %d", ErrInvalidIndexParams, p.EfConstruction)
	}
	return nil
}

// Store is implemented by every vector backend. Write methods persist the
// vectors together with the embedded marker of each row: after a
// successful call the rows are embedded, after a failed call none of them
// is observably embedded without a vector. A post whose text changed since
// it was listed keeps no marker and stays a backfill candidate.
type Store interface {
	EnsureSchema(ctx context.Context) error
	WritePostVectors(ctx context.Context, recs []Record, at time.Time) error
	WriteCommentVectors(ctx context.Context, recs []Record, at time.Time) error
	MatchPosts(ctx context.Context, q MatchQuery) ([]Match, error)
	MatchComments(ctx context.Context, q MatchQuery) ([]Match, error)
	EnsureIndex(ctx context.Context, p IndexParams) error
	Reset(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

func checkDimensions(recs []Record, dim int) error {
	for i, r := range recs {
		if len(r.Vector) != dim {
			return fmt.Errorf("%w: record %d (%s) has %d dimensions, expected %d",
				errDimension, i, r.ID, len(r.Vector), dim)
		}
	}
	return nil
}
