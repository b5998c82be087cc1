package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/nybblers/threaddemand/internal/dump"
)

// IngestDir loads every community pair found in dir, up to concurrency
// pairs at a time. Different communities never share an ingest key, so
// they run independently; one community failing does not stop the others.
// Results are ordered like dump.FindPairs.
func (l *Loader) IngestDir(ctx context.Context, dir string, opts Options, concurrency int) ([]*PairResult, error) {
	pairs, err := dump.FindPairs(dir)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no dump files in %s", dir)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	l.logger.Info("Found community dumps", "dir", dir, "communities", len(pairs), "concurrency", concurrency)

	results := make([]*PairResult, len(pairs))
	var (
		mu   sync.Mutex
		errs *multierror.Error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, pair := range pairs {
		g.Go(func() error {
			res, err := l.IngestPair(gctx, pair, opts)
			results[i] = res
			if err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", pair.Community, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errs.ErrorOrNil()
}
