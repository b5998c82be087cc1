// Package ingest loads dump files into the store. Each (file, year) key is
// claimed through ingest_log before any row is written and finalized as
// complete or failed afterwards, so re-running a finished key is a no-op
// and an interrupted key can be retried.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nybblers/threaddemand/internal/dump"
	"github.com/nybblers/threaddemand/internal/metrics"
	"github.com/nybblers/threaddemand/internal/storage"
)

const (
	DefaultBatchSize  = 500
	DefaultStaleAfter = 6 * time.Hour

	// maxTouched bounds the post ids remembered for follow-up scoring.
	// Beyond it the whole community is rescored instead.
	maxTouched = 1_000_000

	// schemaProbe is how many leading records may all fail to decode
	// before the file is rejected as the wrong kind.
	schemaProbe = 100
)

// Store is the persistence the loader needs.
type Store interface {
	IngestLogsForKey(ctx context.Context, key storage.IngestKey) ([]storage.IngestLog, error)
	StartIngest(ctx context.Context, key storage.IngestKey, kind storage.FileKind, subreddit string, now time.Time) (int64, error)
	HeartbeatIngest(ctx context.Context, id, rows, skipped int64, now time.Time) error
	FinishIngest(ctx context.Context, id int64, status storage.IngestStatus, rows, skipped int64, errText string, now time.Time) error
	UpsertPosts(ctx context.Context, posts []*storage.Post) (int64, error)
	UpsertComments(ctx context.Context, comments []*storage.Comment) (int64, error)
	LinkOrphanComments(ctx context.Context, community string) (int64, error)
}

// Scorer recomputes activity fields after a load.
type Scorer interface {
	ScorePosts(ctx context.Context, postIDs []string, now time.Time) (int, error)
	ScoreCommunity(ctx context.Context, community string, now time.Time) (int, error)
}

// Reconstructor fills missing reconstructed text after a load.
type Reconstructor interface {
	ReconstructPosts(ctx context.Context, postIDs []string) (int, error)
	ReconstructCommunity(ctx context.Context, community string) (int, error)
}

// Options scopes one ingest. Year 0 loads the whole file; Limit 0 means no
// row cap.
type Options struct {
	Year      int
	Limit     int64
	SkipStats bool
}

// FileStatus is the outcome of one file.
type FileStatus string

const (
	FileComplete        FileStatus = "complete"
	FileFailed          FileStatus = "failed"
	FileAlreadyComplete FileStatus = "already_complete"
	FileAbsent          FileStatus = "absent"
)

// FileResult reports one (file, year) key.
type FileResult struct {
	File      string
	Kind      storage.FileKind
	Year      int
	Status    FileStatus
	Inserted  int64
	Skipped   int64 // malformed or incomplete records
	OutOfYear int64
	Reclaimed bool // a stale running attempt was abandoned first
}

// PairResult reports one community.
type PairResult struct {
	Community     string
	Posts         FileResult
	Comments      FileResult
	Linked        int64
	Scored        int
	Reconstructed int
	Duration      time.Duration
}

// Loader streams dump files into the store.
type Loader struct {
	store         Store
	scorer        Scorer
	reconstructor Reconstructor
	metrics       *metrics.Metrics
	logger        *slog.Logger

	batchSize  int
	staleAfter time.Duration
	now        func() time.Time
}

// NewLoader creates a Loader. scorer, reconstructor and m may be nil.
func NewLoader(store Store, scorer Scorer, reconstructor Reconstructor, m *metrics.Metrics, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		store:         store,
		scorer:        scorer,
		reconstructor: reconstructor,
		metrics:       m,
		logger:        logger,
		batchSize:     DefaultBatchSize,
		staleAfter:    DefaultStaleAfter,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithBatchSize sets the number of records upserted per round trip.
func (l *Loader) WithBatchSize(n int) *Loader {
	if n > 0 {
		l.batchSize = n
	}
	return l
}

// WithStaleAfter sets how long a running attempt may go without a
// heartbeat before it is considered abandoned.
func (l *Loader) WithStaleAfter(d time.Duration) *Loader {
	if d > 0 {
		l.staleAfter = d
	}
	return l
}

// IngestPair loads a community's submissions and then its comments,
// attaches comments that arrived before their posts, and rescores and
// reconstructs the posts it touched. Both files are attempted even when
// the first fails; the errors are joined.
func (l *Loader) IngestPair(ctx context.Context, pair dump.Pair, opts Options) (*PairResult, error) {
	if pair.Submissions == "" && pair.Comments == "" {
		return nil, ErrNoFiles
	}
	start := time.Now()
	res := &PairResult{Community: pair.Community}
	touched := newTouchedSet()
	var errs []error

	res.Posts = FileResult{File: baseName(pair.Submissions), Kind: storage.FileKindSubmissions, Year: opts.Year, Status: FileAbsent}
	if pair.Submissions != "" {
		fr, err := l.ingestFile(ctx, pair.Submissions, storage.FileKindSubmissions, pair.Community, opts, touched)
		res.Posts = fr
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Posts.File, err))
		}
	}

	res.Comments = FileResult{File: baseName(pair.Comments), Kind: storage.FileKindComments, Year: opts.Year, Status: FileAbsent}
	if pair.Comments != "" && ctx.Err() == nil {
		fr, err := l.ingestFile(ctx, pair.Comments, storage.FileKindComments, pair.Community, opts, touched)
		res.Comments = fr
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Comments.File, err))
		}
	}

	if res.Posts.Inserted > 0 || res.Comments.Inserted > 0 {
		if err := l.afterLoad(ctx, pair.Community, opts, touched, res); err != nil {
			errs = append(errs, err)
		}
	}

	res.Duration = time.Since(start)
	l.logger.Info("Pair ingested",
		"community", pair.Community,
		"posts", res.Posts.Inserted,
		"comments", res.Comments.Inserted,
		"linked", res.Linked,
		"scored", res.Scored,
		"reconstructed", res.Reconstructed,
		"duration", res.Duration,
	)
	return res, errors.Join(errs...)
}

// IngestFile loads a single dump file of the given kind.
func (l *Loader) IngestFile(ctx context.Context, path string, kind storage.FileKind, community string, opts Options) (FileResult, error) {
	return l.ingestFile(ctx, path, kind, community, opts, newTouchedSet())
}

func (l *Loader) afterLoad(ctx context.Context, community string, opts Options, touched *touchedSet, res *PairResult) error {
	linked, err := l.store.LinkOrphanComments(ctx, community)
	if err != nil {
		return err
	}
	res.Linked = linked
	if opts.SkipStats {
		return nil
	}

	now := l.now()
	ids, all := touched.ids()
	if l.scorer != nil {
		if all {
			res.Scored, err = l.scorer.ScoreCommunity(ctx, community, now)
		} else {
			res.Scored, err = l.scorer.ScorePosts(ctx, ids, now)
		}
		if err != nil {
			return fmt.Errorf("score: %w", err)
		}
	}
	if l.reconstructor != nil {
		if all {
			res.Reconstructed, err = l.reconstructor.ReconstructCommunity(ctx, community)
		} else {
			res.Reconstructed, err = l.reconstructor.ReconstructPosts(ctx, ids)
		}
		if err != nil {
			return fmt.Errorf("reconstruct: %w", err)
		}
	}
	return nil
}

// claim decides whether key may run. A complete attempt means skip. A
// running attempt whose heartbeat is older than staleAfter is marked failed
// and the claim proceeds; a fresh one yields storage.ErrRunInProgress.
func (l *Loader) claim(ctx context.Context, key storage.IngestKey, kind storage.FileKind, community string) (id int64, skip, reclaimed bool, err error) {
	logs, err := l.store.IngestLogsForKey(ctx, key)
	if err != nil {
		return 0, false, false, err
	}
	now := l.now()
	for _, entry := range logs {
		switch entry.Status {
		case storage.StatusComplete:
			return 0, true, false, nil
		case storage.StatusRunning:
			if now.Sub(entry.HeartbeatAt) <= l.staleAfter {
				return 0, false, false, fmt.Errorf("%w: attempt %d last seen %s",
					storage.ErrRunInProgress, entry.ID, entry.HeartbeatAt.Format(time.RFC3339))
			}
			msg := "abandoned: no heartbeat since " + entry.HeartbeatAt.Format(time.RFC3339)
			if err := l.store.FinishIngest(ctx, entry.ID, storage.StatusFailed,
				entry.RowsInserted, entry.RowsSkipped, msg, now); err != nil {
				return 0, false, false, err
			}
			l.logger.Warn("Reclaimed stale ingest attempt", "file", key.File, "year", key.Year, "attempt", entry.ID)
			reclaimed = true
		}
	}

	id, err = l.store.StartIngest(ctx, key, kind, community, now)
	return id, false, reclaimed, err
}

func (l *Loader) ingestFile(ctx context.Context, path string, kind storage.FileKind, community string, opts Options, touched *touchedSet) (FileResult, error) {
	if path == "" {
		return FileResult{}, ErrEmptyPath
	}
	key := storage.IngestKey{File: filepath.Base(path), Year: opts.Year}
	res := FileResult{File: key.File, Kind: kind, Year: key.Year}
	log := l.logger.With("file", key.File, "year", key.Year, "kind", kind)

	id, skip, reclaimed, err := l.claim(ctx, key, kind, community)
	res.Reclaimed = reclaimed
	if err != nil {
		return res, fmt.Errorf("claim: %w", err)
	}
	if skip {
		res.Status = FileAlreadyComplete
		log.Info("Already ingested, skipping")
		return res, nil
	}

	streamErr := l.stream(ctx, id, path, kind, opts, touched, &res)

	// Finalize even when ctx was cancelled, so the attempt does not look
	// alive until it goes stale.
	finishCtx := context.WithoutCancel(ctx)
	status, errText := storage.StatusComplete, ""
	if streamErr != nil {
		status, errText = storage.StatusFailed, streamErr.Error()
	}
	err = l.store.FinishIngest(finishCtx, id, status, res.Inserted, res.Skipped, errText, l.now())
	if errors.Is(err, storage.ErrSuperseded) {
		// Another process completed the key while this attempt ran. The
		// upserts were idempotent, so the key is done either way.
		res.Status = FileAlreadyComplete
		l.metrics.IngestRun(string(kind), string(storage.StatusFailed), res.Inserted, res.Skipped)
		log.Warn("Ingest superseded by a completed attempt", "inserted", res.Inserted)
		return res, nil
	}
	if err != nil {
		return res, errors.Join(streamErr, fmt.Errorf("finish: %w", err))
	}
	res.Status = FileStatus(status)
	l.metrics.IngestRun(string(kind), string(status), res.Inserted, res.Skipped)

	if streamErr != nil {
		log.Warn("Ingest failed", "inserted", res.Inserted, "skipped", res.Skipped, "error", streamErr)
		return res, streamErr
	}
	log.Info("Ingest complete", "inserted", res.Inserted, "skipped", res.Skipped, "out_of_year", res.OutOfYear)
	return res, nil
}

// stream reads path record by record and upserts in batches, refreshing
// the attempt's heartbeat after every flush.
func (l *Loader) stream(ctx context.Context, id int64, path string, kind storage.FileKind, opts Options, touched *touchedSet, res *FileResult) error {
	r, err := dump.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	b := &batch{kind: kind}
	var applied, decoded int64

	flush := func() error {
		if b.len() == 0 {
			return nil
		}
		n, err := b.upsert(ctx, l.store)
		if err != nil {
			return fmt.Errorf("upsert near line %d: %w", r.Line(), err)
		}
		res.Inserted += n
		b.reset()
		return l.store.HeartbeatIngest(ctx, id, res.Inserted, res.Skipped, l.now())
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read line %d: %w", r.Line(), err)
		}

		var post *storage.Post
		var comment *storage.Comment
		var created time.Time
		var reason dump.SkipReason
		switch kind {
		case storage.FileKindSubmissions:
			if post, reason = dump.ParseSubmission(line); post != nil {
				created = post.CreatedAt
			}
		case storage.FileKindComments:
			if comment, reason = dump.ParseComment(line); comment != nil {
				created = comment.CreatedAt
			}
		default:
			return fmt.Errorf("unknown file kind %q", kind)
		}

		if reason != dump.SkipNone {
			res.Skipped++
			if decoded == 0 && res.Skipped >= schemaProbe {
				return &SchemaError{Kind: string(kind), Skipped: res.Skipped}
			}
			continue
		}
		decoded++
		if !dump.InYear(created, opts.Year) {
			res.OutOfYear++
			continue
		}
		if opts.Limit > 0 && applied >= opts.Limit {
			if err := flush(); err != nil {
				return err
			}
			return &RowCapError{Limit: opts.Limit}
		}
		applied++

		if post != nil {
			b.posts = append(b.posts, post)
			touched.add(post.ID)
		} else {
			b.comments = append(b.comments, comment)
			touched.add(comment.LinkID)
		}

		if b.len() >= l.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if decoded == 0 && res.Skipped > 0 {
		return &SchemaError{Kind: string(kind), Skipped: res.Skipped}
	}
	return flush()
}

type batch struct {
	kind     storage.FileKind
	posts    []*storage.Post
	comments []*storage.Comment
}

func (b *batch) len() int {
	return len(b.posts) + len(b.comments)
}

func (b *batch) reset() {
	b.posts = b.posts[:0]
	b.comments = b.comments[:0]
}

func (b *batch) upsert(ctx context.Context, store Store) (int64, error) {
	if b.kind == storage.FileKindSubmissions {
		return store.UpsertPosts(ctx, b.posts)
	}
	return store.UpsertComments(ctx, b.comments)
}

// touchedSet remembers post ids for follow-up work until it grows past
// maxTouched, after which callers fall back to community-wide passes.
type touchedSet struct {
	set      map[string]struct{}
	overflow bool
}

func newTouchedSet() *touchedSet {
	return &touchedSet{set: map[string]struct{}{}}
}

func (t *touchedSet) add(id string) {
	if t.overflow || id == "" {
		return
	}
	t.set[id] = struct{}{}
	if len(t.set) > maxTouched {
		t.overflow = true
		t.set = nil
	}
}

// ids returns the remembered ids, or all=true after an overflow.
func (t *touchedSet) ids() (ids []string, all bool) {
	if t.overflow {
		return nil, true
	}
	ids = make([]string, 0, len(t.set))
	for id := range t.set {
		ids = append(ids, id)
	}
	return ids, false
}

func baseName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}
