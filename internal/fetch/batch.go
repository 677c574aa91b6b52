package fetch

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/fetcher/internal/core/domain"
)

// Result is the outcome of one fetch in a batch.
type Result[T any] struct {
	Value      T
	Err        error
	Outcome    domain.FetchOutcome
	Attempts   int
	StatusCode int
	Duration   time.Duration
}

var errNilFetcher = errors.New("fetch: nil fetcher")

// Call pairs a request with the fetcher that should run it.
type Call struct {
	Fetcher *Fetcher
	Request *domain.Request
}

type keyed[K comparable, T any] struct {
	key K
	res Result[T]
}

// FetchAll runs every request through f concurrently, at most limit at a
// time (limit <= 0 means unbounded).
func FetchAll[K comparable, T any](
	ctx context.Context,
	f *Fetcher,
	reqs map[K]*domain.Request,
	limit int,
	decode DecodeFunc[T],
) map[K]Result[T] {
	calls := make(map[K]Call, len(reqs))
	for k, req := range reqs {
		calls[k] = Call{Fetcher: f, Request: req}
	}
	return FetchEach(ctx, calls, limit, decode)
}

// FetchEach is FetchAll for calls that use different fetchers. Calls without
// a fetcher or request get an error result and no outcome. Workers hand
// their results to a single collector goroutine, which is the only writer of
// the returned map.
func FetchEach[K comparable, T any](
	ctx context.Context,
	calls map[K]Call,
	limit int,
	decode DecodeFunc[T],
) map[K]Result[T] {
	results := make(map[K]Result[T], len(calls))
	if len(calls) == 0 {
		return results
	}

	ch := make(chan keyed[K, T])
	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range ch {
			results[r.key] = r.res
		}
	}()

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for key, call := range calls {
		g.Go(func() error {
			if call.Fetcher == nil {
				ch <- keyed[K, T]{key: key, res: Result[T]{Err: errNilFetcher}}
				return nil
			}
			v, out, err := run(ctx, call.Fetcher, call.Request, call.Fetcher.cfg, decode)
			ch <- keyed[K, T]{key: key, res: Result[T]{
				Value:      v,
				Err:        err,
				Outcome:    out.Result,
				Attempts:   out.Attempts,
				StatusCode: out.StatusCode,
				Duration:   out.Duration,
			}}
			return nil
		})
	}
	_ = g.Wait()
	close(ch)
	<-done

	return results
}
