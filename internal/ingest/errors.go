package ingest

import (
	"errors"
	"fmt"
)

var (
	ErrNoFiles   = errors.New("pair has neither a submissions nor a comments file")
	ErrRowCap    = errors.New("row cap reached")
	ErrEmptyPath = errors.New("empty dump path")
)

// RowCapError stops a file once Limit records were applied. The attempt is
// recorded as failed so the key stays retryable.
type RowCapError struct {
	Limit int64
}

func (e *RowCapError) Error() string {
	return fmt.Sprintf("row cap %d reached", e.Limit)
}

func (e *RowCapError) Is(target error) bool {
	return target == ErrRowCap
}

// ErrSchema marks a file whose records do not decode as the expected kind,
// such as a comments dump passed as submissions.
var ErrSchema = errors.New("file does not match the expected record schema")

// SchemaError rejects a whole file. Like any fatal error it finalizes the
// attempt as failed, so the key can be retried with the right file.
type SchemaError struct {
	Kind    string
	Skipped int64
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("no %s record parsed in the first %d lines", e.Kind, e.Skipped)
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}
