// Package activity derives recency-weighted engagement metrics per post.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nybblers/threaddemand/internal/storage"
)

// RecentWindow is the trailing window, measured back from the scoring
// time, in which comments count as recent.
const RecentWindow = 90 * 24 * time.Hour

const defaultChunkSize = 1000

// Store is the persistence the scorer needs.
type Store interface {
	PostCommentStats(ctx context.Context, postIDs []string, since, now time.Time) ([]storage.CommentStats, error)
	UpdateActivity(ctx context.Context, updates []storage.ActivityUpdate) error
	ListPostIDs(ctx context.Context, community, afterID string, limit int) ([]string, error)
}

// Ratio is recent × ln(1 + age in days). Negative ages count as zero.
func Ratio(recent int, createdAt, now time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return float64(recent) * math.Log1p(ageDays)
}

// Scorer recomputes last_comment_at, recent_comment_count and
// activity_ratio.
type Scorer struct {
	store     Store
	window    time.Duration
	chunkSize int
	logger    *slog.Logger
}

// NewScorer creates a scorer using RecentWindow.
func NewScorer(store Store, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{store: store, window: RecentWindow, chunkSize: defaultChunkSize, logger: logger}
}

// Compute derives the activity fields of one post as of now.
func (s *Scorer) Compute(stats storage.CommentStats, now time.Time) storage.ActivityUpdate {
	return storage.ActivityUpdate{
		PostID:        stats.PostID,
		LastCommentAt: stats.LastCommentAt,
		RecentCount:   stats.RecentCount,
		Ratio:         Ratio(stats.RecentCount, stats.CreatedAt, now),
	}
}

// ScorePosts rescores the given posts as of now and returns how many were
// updated. Unknown ids are ignored.
func (s *Scorer) ScorePosts(ctx context.Context, postIDs []string, now time.Time) (int, error) {
	scored := 0
	for start := 0; start < len(postIDs); start += s.chunkSize {
		end := min(start+s.chunkSize, len(postIDs))
		n, err := s.scoreChunk(ctx, postIDs[start:end], now)
		if err != nil {
			return scored, err
		}
		scored += n
	}
	return scored, nil
}

// ScoreCommunity rescores every post of a community, or the whole corpus
// when community is empty.
func (s *Scorer) ScoreCommunity(ctx context.Context, community string, now time.Time) (int, error) {
	scored := 0
	after := ""
	for {
		ids, err := s.store.ListPostIDs(ctx, community, after, s.chunkSize)
		if err != nil {
			return scored, fmt.Errorf("list posts: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		n, err := s.scoreChunk(ctx, ids, now)
		if err != nil {
			return scored, err
		}
		scored += n
		after = ids[len(ids)-1]
		s.logger.Debug("Scored posts", "community", community, "scored", scored)
		if len(ids) < s.chunkSize {
			break
		}
	}
	s.logger.Info("Activity scoring complete", "community", community, "posts", scored)
	return scored, nil
}

func (s *Scorer) scoreChunk(ctx context.Context, ids []string, now time.Time) (int, error) {
	stats, err := s.store.PostCommentStats(ctx, ids, now.Add(-s.window), now)
	if err != nil {
		return 0, fmt.Errorf("comment stats: %w", err)
	}
	updates := make([]storage.ActivityUpdate, len(stats))
	for i, st := range stats {
		updates[i] = s.Compute(st, now)
	}
	if err := s.store.UpdateActivity(ctx, updates); err != nil {
		return 0, fmt.Errorf("write activity: %w", err)
	}
	return len(updates), nil
}
