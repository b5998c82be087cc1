package storage

import "errors"

var (
	ErrDatabaseUnreachable = errors.New("postgres unreachable")
	ErrPostNotFound        = errors.New("post not found")
	ErrRunInProgress       = errors.New("ingest run already in progress for key")
	ErrSuperseded          = errors.New("superseded by a completed attempt")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
	ErrBackendMismatch     = errors.New("vector backend mismatch")
)
