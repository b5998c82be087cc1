package dump

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nybblers/threaddemand/internal/storage"
)

// SkipReason explains why a record was not applied.
type SkipReason string

const (
	SkipNone         SkipReason = ""
	SkipMalformed    SkipReason = "malformed"
	SkipMissingField SkipReason = "missing_field"
	SkipOutOfRange   SkipReason = "out_of_range"
)

// ParseSubmission decodes one submissions line.
func ParseSubmission(line []byte) (*storage.Post, SkipReason) {
	if !gjson.ValidBytes(line) {
		return nil, SkipMalformed
	}
	rec := gjson.ParseBytes(line)
	if !rec.IsObject() {
		return nil, SkipMalformed
	}

	// title tells a submission apart from a comment, which carries the
	// other three keys too.
	title := rec.Get("title")
	id := rec.Get("id").String()
	subreddit := rec.Get("subreddit").String()
	created, ok := timestamp(rec.Get("created_utc"))
	if id == "" || subreddit == "" || !ok || !title.Exists() {
		return nil, SkipMissingField
	}

	return &storage.Post{
		ID:          id,
		Subreddit:   subreddit,
		Title:       title.String(),
		Body:        cleanText(rec.Get("selftext")),
		Author:      optional(rec.Get("author")),
		CreatedAt:   created,
		Score:       int(rec.Get("score").Int()),
		URL:         optional(rec.Get("url")),
		NumComments: int(rec.Get("num_comments").Int()),
	}, SkipNone
}

// ParseComment decodes one comments line. The owning post id is taken from
// link_id with its "t3_" prefix removed.
func ParseComment(line []byte) (*storage.Comment, SkipReason) {
	if !gjson.ValidBytes(line) {
		return nil, SkipMalformed
	}
	rec := gjson.ParseBytes(line)
	if !rec.IsObject() {
		return nil, SkipMalformed
	}

	id := rec.Get("id").String()
	linkID := strings.TrimPrefix(rec.Get("link_id").String(), "t3_")
	created, ok := timestamp(rec.Get("created_utc"))
	if id == "" || linkID == "" || !ok {
		return nil, SkipMissingField
	}

	parentID := rec.Get("parent_id").String()
	parentType := ""
	if i := strings.IndexByte(parentID, '_'); i > 0 {
		parentType = parentID[:i]
	}

	return &storage.Comment{
		ID:               id,
		LinkID:           linkID,
		ParentID:         parentID,
		ParentType:       parentType,
		Author:           optional(rec.Get("author")),
		Body:             cleanText(rec.Get("body")),
		CreatedAt:        created,
		Score:            int(rec.Get("score").Int()),
		Controversiality: int(rec.Get("controversiality").Int()),
	}, SkipNone
}

// YearBounds returns [Jan 1 year, Jan 1 year+1) in UTC.
func YearBounds(year int) (time.Time, time.Time) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(1, 0, 0)
}

// InYear reports whether t falls inside the calendar year. Year 0 admits
// every timestamp.
func InYear(t time.Time, year int) bool {
	if year == 0 {
		return true
	}
	start, end := YearBounds(year)
	return !t.Before(start) && t.Before(end)
}

// timestamp accepts epoch seconds as a number or a numeric string.
func timestamp(v gjson.Result) (time.Time, bool) {
	var secs int64
	switch v.Type {
	case gjson.Number:
		secs = int64(v.Float())
	case gjson.String:
		secs = v.Int()
	default:
		return time.Time{}, false
	}
	if secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

// cleanText drops empty values and the dump's deletion sentinels.
func cleanText(v gjson.Result) *string {
	s := strings.TrimSpace(v.String())
	if s == "" || storage.IsDeletedMarker(s) {
		return nil
	}
	return &s
}

func optional(v gjson.Result) *string {
	s := v.String()
	if s == "" {
		return nil
	}
	return &s
}
