package dump

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r *Reader) []string {
	t.Helper()
	var lines []string
	for {
		line, err := r.Next()
		if err == io.EOF {
			return lines
		}
		require.NoError(t, err)
		lines = append(lines, string(line))
	}
}

func TestReader_PlainSkipsBlankLines(t *testing.T) {
	input := "{\"id\":\"a\"}\n\n   \n{\"id\":\"b\"}\r\n{\"id\":\"c\"}"

	r, err := NewReader(strings.NewReader(input), false)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{`{"id":"a"}`, `{"id":"b"}`, `{"id":"c"}`}, readAll(t, r))
	assert.Equal(t, int64(5), r.Line())
}

func TestReader_Zstd(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write([]byte("{\"id\":\"x\"}\n{\"id\":\"y\"}\n"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	dir := t.TempDir()
	path := filepath.Join(dir, "golang_submissions.zst")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{`{"id":"x"}`, `{"id":"y"}`}, readAll(t, r))
}

func TestReader_LongLine(t *testing.T) {
	long := `{"id":"big","selftext":"` + strings.Repeat("z", 3<<20) + `"}`

	r, err := NewReader(strings.NewReader(long+"\n"), false)
	require.NoError(t, err)

	line, err := r.Next()
	require.NoError(t, err)
	assert.Len(t, line, len(long))
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.zst"))
	assert.Error(t, err)
}

func TestFindPairs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"golang_submissions.zst",
		"golang_comments.zst",
		"rust_submissions.jsonl",
		"notes.txt",
		"_comments.zst",
		"python_comments.zst",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	pairs, err := FindPairs(dir)
	require.NoError(t, err)
	require.Len(t, pairs, 3)

	assert.Equal(t, "golang", pairs[0].Community)
	assert.Equal(t, filepath.Join(dir, "golang_submissions.zst"), pairs[0].Submissions)
	assert.Equal(t, filepath.Join(dir, "golang_comments.zst"), pairs[0].Comments)

	assert.Equal(t, "python", pairs[1].Community)
	assert.Empty(t, pairs[1].Submissions)

	assert.Equal(t, "rust", pairs[2].Community)
	assert.Empty(t, pairs[2].Comments)
}

func TestCommunityFromPath(t *testing.T) {
	assert.Equal(t, "Entrepreneur", CommunityFromPath("/data/Entrepreneur_submissions.zst"))
	assert.Equal(t, "golang", CommunityFromPath("golang_comments.jsonl"))
	assert.Equal(t, "", CommunityFromPath("dump.zst"))
}
