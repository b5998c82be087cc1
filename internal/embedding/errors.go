package embedding

import "errors"

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrShortResponse     = errors.New("provider returned fewer embeddings than inputs")
)
