package dump

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	submissionsSuffix = "_submissions"
	commentsSuffix    = "_comments"
)

// Pair is the submissions and comments dump of one community. Either path
// may be empty when only one side exists.
type Pair struct {
	Community   string
	Submissions string
	Comments    string
}

// FindPairs scans dir for <community>_submissions and <community>_comments
// files with a .zst, .jsonl or .ndjson extension, sorted by community.
func FindPairs(dir string) ([]Pair, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dump dir: %w", err)
	}

	byCommunity := map[string]*Pair{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		switch strings.ToLower(ext) {
		case ".zst", ".jsonl", ".ndjson":
		default:
			continue
		}
		stem := strings.TrimSuffix(name, ext)
		path := filepath.Join(dir, name)

		var community string
		var isSubmissions bool
		switch {
		case strings.HasSuffix(stem, submissionsSuffix):
			community, isSubmissions = strings.TrimSuffix(stem, submissionsSuffix), true
		case strings.HasSuffix(stem, commentsSuffix):
			community = strings.TrimSuffix(stem, commentsSuffix)
		default:
			continue
		}
		if community == "" {
			continue
		}

		p, ok := byCommunity[community]
		if !ok {
			p = &Pair{Community: community}
			byCommunity[community] = p
		}
		if isSubmissions {
			p.Submissions = path
		} else {
			p.Comments = path
		}
	}

	pairs := make([]Pair, 0, len(byCommunity))
	for _, p := range byCommunity {
		pairs = append(pairs, *p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Community < pairs[j].Community })
	return pairs, nil
}

// CommunityFromPath derives the community from a dump file name, or "" when
// the name does not follow the <community>_<kind> convention.
func CommunityFromPath(path string) string {
	name := filepath.Base(path)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	for _, suffix := range []string{submissionsSuffix, commentsSuffix} {
		if strings.HasSuffix(stem, suffix) {
			return strings.TrimSuffix(stem, suffix)
		}
	}
	return ""
}
