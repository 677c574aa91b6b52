package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/fetcher/internal/core/domain"
	"github.com/vietddude/fetcher/internal/fetch"
	"github.com/vietddude/fetcher/internal/infra/storage"
)

// ReplayReport summarises one replay pass.
type ReplayReport struct {
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// Replayer re-runs dead-lettered fetches. Fetchers handed to it must not
// dead-letter again, or every failed replay would add a duplicate.
type Replayer struct {
	repo       storage.FailedFetchRepository
	fetcherFor func(ff *domain.FailedFetch) *fetch.Fetcher
	maxRetries int
	log        *slog.Logger
}

// NewReplayer creates a replayer. fetcherFor picks the fetcher for an entry,
// returning nil to skip it. maxRetries <= 0 means no limit.
func NewReplayer(
	repo storage.FailedFetchRepository,
	fetcherFor func(ff *domain.FailedFetch) *fetch.Fetcher,
	maxRetries int,
) *Replayer {
	return &Replayer{
		repo:       repo,
		fetcherFor: fetcherFor,
		maxRetries: maxRetries,
		log:        slog.Default(),
	}
}

// Replay runs up to limit pending entries of the named job ("" for all).
// limit <= 0 replays everything pending.
func (r *Replayer) Replay(ctx context.Context, name string, limit int) (ReplayReport, error) {
	var report ReplayReport

	pending, err := r.repo.GetAll(ctx, name)
	if err != nil {
		return report, fmt.Errorf("failed to list failed fetches: %w", err)
	}

	for i, ff := range pending {
		if limit > 0 && i >= limit {
			break
		}
		if r.maxRetries > 0 && ff.RetryCount >= r.maxRetries {
			report.Skipped++
			continue
		}
		f := r.fetcherFor(ff)
		if f == nil {
			report.Skipped++
			continue
		}

		req := ff.Request
		_, err := fetch.Fetch(ctx, f, &req, fetch.Raw)
		switch {
		case err == nil:
			if err := r.repo.MarkResolved(ctx, ff.ID); err != nil {
				return report, fmt.Errorf("failed to resolve %s: %w", ff.ID, err)
			}
			report.Resolved++
			r.log.Info("Replayed failed fetch", "id", ff.ID, "job", ff.Name)
		case errors.Is(err, fetch.ErrCanceled):
			return report, err
		default:
			if err := r.repo.IncrementRetry(ctx, ff.ID); err != nil {
				return report, fmt.Errorf("failed to bump retry of %s: %w", ff.ID, err)
			}
			report.Failed++
			r.log.Warn("Replay failed", "id", ff.ID, "job", ff.Name, "retry_count", ff.RetryCount+1, "error", err)
		}
	}
	return report, nil
}
