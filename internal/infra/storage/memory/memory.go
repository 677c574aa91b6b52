package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/fetcher/internal/core/domain"
	"github.com/vietddude/fetcher/internal/infra/storage"
)

var (
	_ storage.FetchLogRepository    = (*FetchLogRepo)(nil)
	_ storage.FailedFetchRepository = (*FailedFetchRepo)(nil)
)

type MemoryStorage struct {
	records []*domain.FetchRecord
	failed  map[string]*domain.FailedFetch
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		failed: make(map[string]*domain.FailedFetch),
	}
}

// -----------------------------------------------------------------------------
// Fetch Log Repository
// -----------------------------------------------------------------------------

type FetchLogRepo struct {
	store *MemoryStorage
}

func NewFetchLogRepo(store *MemoryStorage) *FetchLogRepo {
	return &FetchLogRepo{store: store}
}

func (r *FetchLogRepo) Save(ctx context.Context, rec *domain.FetchRecord) error {
	if rec == nil {
		return fmt.Errorf("nil fetch record")
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *rec
	r.store.records = append(r.store.records, &c)
	return nil
}

func (r *FetchLogRepo) ListRecent(ctx context.Context, name string, limit int) ([]*domain.FetchRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.FetchRecord
	for i := len(r.store.records) - 1; i >= 0; i-- {
		rec := r.store.records[i]
		if name != "" && rec.Name != name {
			continue
		}
		c := *rec
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *FetchLogRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	kept := r.store.records[:0]
	var deleted int64
	for _, rec := range r.store.records {
		if rec.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	r.store.records = kept
	return deleted, nil
}

// -----------------------------------------------------------------------------
// Failed Fetch Repository
// -----------------------------------------------------------------------------

type FailedFetchRepo struct {
	store *MemoryStorage
}

func NewFailedFetchRepo(store *MemoryStorage) *FailedFetchRepo {
	return &FailedFetchRepo{store: store}
}

func (r *FailedFetchRepo) Add(ctx context.Context, ff *domain.FailedFetch) error {
	if ff == nil {
		return fmt.Errorf("nil failed fetch")
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if ff.ID == "" {
		ff.ID = uuid.NewString()
	}
	now := time.Now()
	if ff.CreatedAt.IsZero() {
		ff.CreatedAt = now
	}
	if ff.LastAttempt.IsZero() {
		ff.LastAttempt = now
	}
	if ff.Status == "" {
		ff.Status = domain.FailedFetchStatusPending
	}
	c := *ff
	r.store.failed[ff.ID] = &c
	return nil
}

// GetNext returns the pending entry with the oldest last attempt.
func (r *FailedFetchRepo) GetNext(ctx context.Context, name string) (*domain.FailedFetch, error) {
	pending := r.pending(name)
	if len(pending) == 0 {
		return nil, nil
	}
	return pending[0], nil
}

func (r *FailedFetchRepo) IncrementRetry(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ff, ok := r.store.failed[id]
	if !ok {
		return fmt.Errorf("failed fetch %s not found", id)
	}
	ff.RetryCount++
	ff.LastAttempt = time.Now()
	return nil
}

func (r *FailedFetchRepo) MarkResolved(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if ff, ok := r.store.failed[id]; ok {
		ff.Status = domain.FailedFetchStatusResolved
	}
	return nil
}

func (r *FailedFetchRepo) GetAll(ctx context.Context, name string) ([]*domain.FailedFetch, error) {
	return r.pending(name), nil
}

func (r *FailedFetchRepo) Count(ctx context.Context, name string) (int, error) {
	return len(r.pending(name)), nil
}

func (r *FailedFetchRepo) pending(name string) []*domain.FailedFetch {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.FailedFetch
	for _, ff := range r.store.failed {
		if ff.Status != domain.FailedFetchStatusPending {
			continue
		}
		if name != "" && ff.Name != name {
			continue
		}
		c := *ff
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *domain.FailedFetch) int {
		if c := a.LastAttempt.Compare(b.LastAttempt); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}
