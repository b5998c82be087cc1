// Package dump streams line-delimited JSON dump files, optionally zstd
// compressed, and turns their records into posts and comments.
package dump

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// maxWindow admits dumps compressed with --long=31.
const maxWindow = 1 << 31

// Reader yields one record line at a time without loading the file.
type Reader struct {
	br   *bufio.Reader
	dec  *zstd.Decoder
	file *os.File
	line int64
}

// Open opens path for streaming; files ending in .zst are decompressed.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump: %w", err)
	}
	r, err := NewReader(f, IsCompressed(path))
	if err != nil {
		f.Close()
		return nil, err
	}
	r.file = f
	return r, nil
}

// NewReader wraps src. When compressed is set src is a zstd stream.
func NewReader(src io.Reader, compressed bool) (*Reader, error) {
	r := &Reader{}
	if compressed {
		dec, err := zstd.NewReader(src, zstd.WithDecoderMaxWindow(maxWindow), zstd.WithDecoderLowmem(true))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		r.dec = dec
		src = dec
	}
	r.br = bufio.NewReaderSize(src, 1<<20)
	return r, nil
}

// Next returns the next non-blank line, or io.EOF once the stream ends.
// The returned slice is only valid until the following call.
func (r *Reader) Next() ([]byte, error) {
	for {
		line, err := r.br.ReadBytes('\n')
		if len(line) > 0 {
			r.line++
			if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
				return trimmed, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read dump line %d: %w", r.line+1, err)
		}
	}
}

// Line is the number of lines consumed so far.
func (r *Reader) Line() int64 {
	return r.line
}

// Close releases the decoder and the underlying file.
func (r *Reader) Close() error {
	if r.dec != nil {
		r.dec.Close()
	}
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// IsCompressed reports whether path names a zstd dump.
func IsCompressed(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zst")
}
