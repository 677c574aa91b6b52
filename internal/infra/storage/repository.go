package storage

import (
	"context"
	"time"

	"github.com/vietddude/fetcher/internal/core/domain"
)

// FetchLogRepository stores one audit record per fetch invocation.
type FetchLogRepository interface {
	// Save stores a record
	Save(ctx context.Context, rec *domain.FetchRecord) error

	// ListRecent returns the newest records first. An empty name matches
	// every job.
	ListRecent(ctx context.Context, name string, limit int) ([]*domain.FetchRecord, error)

	// DeleteOlderThan prunes records created before the cutoff
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// FailedFetchRepository handles the dead-letter queue of fetches that ended
// without a payload. An empty name matches every job.
type FailedFetchRepository interface {
	// Add adds a failed fetch. An empty ID is filled in.
	Add(ctx context.Context, ff *domain.FailedFetch) error

	// GetNext retrieves the next failed fetch to replay, or nil
	GetNext(ctx context.Context, name string) (*domain.FailedFetch, error)

	// IncrementRetry increments retry count
	IncrementRetry(ctx context.Context, id string) error

	// MarkResolved removes a failed fetch from the pending set
	MarkResolved(ctx context.Context, id string) error

	// GetAll retrieves all pending failed fetches
	GetAll(ctx context.Context, name string) ([]*domain.FailedFetch, error)

	// Count returns the count of pending failed fetches
	Count(ctx context.Context, name string) (int, error)
}

// OutcomeWriter is implemented by stores that can persist a fetch record and
// its dead-letter entry atomically.
type OutcomeWriter interface {
	SaveOutcome(ctx context.Context, rec *domain.FetchRecord, ff *domain.FailedFetch) error
}
