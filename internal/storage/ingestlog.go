package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
)

const uniqueViolation = "23505"

const ingestLogColumns = `id, file_name, file_kind, COALESCE(year, 0), subreddit, started_at, heartbeat_at,
	completed_at, rows_inserted, rows_skipped, status, COALESCE(error_text, '')`

// IngestLogsForKey returns the running and complete attempts for key.
func (db *DB) IngestLogsForKey(ctx context.Context, key IngestKey) ([]IngestLog, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+ingestLogColumns+` FROM ingest_log
		WHERE file_name = $1 AND COALESCE(year, 0) = $2 AND status IN ('running', 'complete')
		ORDER BY started_at`, key.File, key.Year)
	if err != nil {
		return nil, fmt.Errorf("query ingest_log: %w", err)
	}
	return collectIngestLogs(rows)
}

// RecentIngestLogs returns the latest attempts, newest first.
func (db *DB) RecentIngestLogs(ctx context.Context, limit int) ([]IngestLog, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+ingestLogColumns+` FROM ingest_log
		ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ingest_log: %w", err)
	}
	return collectIngestLogs(rows)
}

// StartIngest records a running attempt for key. It returns
// ErrRunInProgress when another attempt already holds the key.
func (db *DB) StartIngest(ctx context.Context, key IngestKey, kind FileKind, subreddit string, now time.Time) (int64, error) {
	var id int64
	err := db.pool.QueryRow(ctx, `INSERT INTO ingest_log
		(file_name, file_kind, year, subreddit, started_at, heartbeat_at, status)
		VALUES ($1, $2, $3, $4, $5, $5, 'running') RETURNING id`,
		key.File, string(kind), nullableYear(key.Year), subreddit, now).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, fmt.Errorf("%w: %s (year %d)", ErrRunInProgress, key.File, key.Year)
		}
		return 0, fmt.Errorf("insert ingest_log: %w", err)
	}
	return id, nil
}

// HeartbeatIngest refreshes a running attempt's liveness and progress.
func (db *DB) HeartbeatIngest(ctx context.Context, id, rows, skipped int64, now time.Time) error {
	_, err := db.pool.Exec(ctx, `UPDATE ingest_log
		SET heartbeat_at = $2, rows_inserted = $3, rows_skipped = $4
		WHERE id = $1 AND status = 'running'`, id, now, rows, skipped)
	if err != nil {
		return fmt.Errorf("heartbeat ingest_log: %w", err)
	}
	return nil
}

// FinishIngest moves a running attempt to complete or failed. Finishing an
// attempt that is no longer running is a no-op. When another attempt
// completed the key first, the attempt is recorded as failed and
// ErrSuperseded is returned.
func (db *DB) FinishIngest(ctx context.Context, id int64, status IngestStatus, rows, skipped int64, errText string, now time.Time) error {
	err := db.finishIngest(ctx, id, status, rows, skipped, errText, now)
	var pgErr *pgconn.PgError
	if status != StatusComplete || !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	if err := db.finishIngest(ctx, id, StatusFailed, rows, skipped, ErrSuperseded.Error(), now); err != nil {
		return err
	}
	return ErrSuperseded
}

func (db *DB) finishIngest(ctx context.Context, id int64, status IngestStatus, rows, skipped int64, errText string, now time.Time) error {
	var errArg *string
	if errText != "" {
		errArg = &errText
	}
	_, err := db.pool.Exec(ctx, `UPDATE ingest_log
		SET status = $2, rows_inserted = $3, rows_skipped = $4, error_text = $5,
			completed_at = $6, heartbeat_at = $6
		WHERE id = $1 AND status = 'running'`, id, string(status), rows, skipped, errArg, now)
	if err != nil {
		return fmt.Errorf("finish ingest_log: %w", err)
	}
	return nil
}

func collectIngestLogs(rows pgx.Rows) ([]IngestLog, error) {
	defer rows.Close()

	var logs []IngestLog
	for rows.Next() {
		var l IngestLog
		var kind, status string
		if err := rows.Scan(&l.ID, &l.File, &kind, &l.Year, &l.Subreddit, &l.StartedAt, &l.HeartbeatAt,
			&l.CompletedAt, &l.RowsInserted, &l.RowsSkipped, &status, &l.Error); err != nil {
			return nil, fmt.Errorf("scan ingest_log: %w", err)
		}
		l.Kind = FileKind(kind)
		l.Status = IngestStatus(status)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
