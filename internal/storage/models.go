package storage

import "time"

// FileKind distinguishes the two dump streams of a community.
type FileKind string

const (
	FileKindSubmissions FileKind = "submissions"
	FileKindComments    FileKind = "comments"
)

// IngestStatus is the lifecycle state of one ingest_log row.
type IngestStatus string

const (
	StatusRunning  IngestStatus = "running"
	StatusComplete IngestStatus = "complete"
	StatusFailed   IngestStatus = "failed"
)

// IngestKey identifies one unit of ingestion work. Year 0 means whole file.
type IngestKey struct {
	File string
	Year int
}

// IngestLog is one attempt at an IngestKey.
type IngestLog struct {
	ID           int64
	File         string
	Kind         FileKind
	Year         int // 0 when the whole file was ingested
	Subreddit    string
	StartedAt    time.Time
	HeartbeatAt  time.Time
	CompletedAt  *time.Time
	RowsInserted int64
	RowsSkipped  int64
	Status       IngestStatus
	Error        string
}

// Key returns the idempotency key of the attempt.
func (l *IngestLog) Key() IngestKey {
	return IngestKey{File: l.File, Year: l.Year}
}

// Post is one discussion thread. Raw fields come from the dumps; the rest
// are derived by the scorer, the reconstructor and the backfill worker.
type Post struct {
	ID          string
	Subreddit   string
	Title       string
	Body        *string
	Author      *string
	CreatedAt   time.Time
	Score       int
	URL         *string
	NumComments int

	LastCommentAt      *time.Time
	RecentCommentCount int
	ActivityRatio      float64
	ReconstructedText  *string
	EmbeddedAt         *time.Time
}

// Comment is a reply to a post or to another comment.
type Comment struct {
	ID               string
	PostID           *string // nil while the owning post is not loaded
	LinkID           string  // owning post id as written in the dump
	ParentID         string
	ParentType       string // "t1" comment, "t3" post
	Author           *string
	Body             *string
	CreatedAt        time.Time
	Score            int
	Controversiality int
}

// CommentHit is a comment joined with its community for retrieval output.
type CommentHit struct {
	Comment
	Subreddit string
}

// CommentStats aggregates a post's comments for activity scoring.
type CommentStats struct {
	PostID        string
	CreatedAt     time.Time
	LastCommentAt *time.Time
	RecentCount   int
}

// ActivityUpdate carries the derived activity fields of one post.
type ActivityUpdate struct {
	PostID        string
	LastCommentAt *time.Time
	RecentCount   int
	Ratio         float64
}

// ThreadSeed is the input of text reconstruction for one post.
type ThreadSeed struct {
	PostID      string
	Title       string
	Body        *string
	TopComments []string
}

// TextUpdate sets the reconstructed text of one post.
type TextUpdate struct {
	PostID string
	Text   string
}

// EmbedCandidate is a post or comment that still needs a vector.
type EmbedCandidate struct {
	ID        string
	PostID    string
	Subreddit string
	CreatedAt time.Time
	Text      string
}

// Alert is a saved query with its embedding.
type Alert struct {
	ID        int64
	UserEmail string
	Query     string
	CreatedAt time.Time
}

// Deleted-content sentinels used by the dumps.
const (
	DeletedMarker = "[deleted]"
	RemovedMarker = "[removed]"
)

// IsDeletedMarker reports whether s is one of the dump's deletion sentinels.
func IsDeletedMarker(s string) bool {
	return s == DeletedMarker || s == RemovedMarker
}
