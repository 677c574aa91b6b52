package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/fetcher/internal/core/domain"
)

const defaultTTL = 24 * time.Hour

// FailedFetchRepo implements storage.FailedFetchRepository using Redis.
// Pending IDs live in a sorted set scored by retry count; entries are JSON
// blobs that expire after the configured TTL.
type FailedFetchRepo struct {
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
}

// NewFailedFetchRepo creates a new Redis-backed failed fetch repository.
func NewFailedFetchRepo(client *Client, cfg Config) *FailedFetchRepo {
	ns := cfg.Namespace
	if ns == "" {
		ns = "fetcher"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &FailedFetchRepo{
		rdb:       client.rdb,
		namespace: ns,
		ttl:       ttl,
	}
}

// Key helpers
func queueKey(namespace string) string {
	return fmt.Sprintf("failed_fetches:%s", namespace)
}

func entryKey(namespace, id string) string {
	return fmt.Sprintf("failed_fetch:%s:%s", namespace, id)
}

// Add adds a failed fetch to the queue.
func (r *FailedFetchRepo) Add(ctx context.Context, ff *domain.FailedFetch) error {
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
	return r.put(ctx, ff)
}

func (r *FailedFetchRepo) put(ctx context.Context, ff *domain.FailedFetch) error {
	data, err := json.Marshal(ff)
	if err != nil {
		return fmt.Errorf("failed to marshal failed fetch: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entryKey(r.namespace, ff.ID), data, r.ttl)
		// Lower retry count = replayed first
		pipe.ZAdd(ctx, queueKey(r.namespace), redis.Z{
			Score:  float64(ff.RetryCount),
			Member: ff.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store failed fetch: %w", err)
	}
	return nil
}

// get loads one entry. A missing blob means the entry expired; its ID is
// dropped from the queue.
func (r *FailedFetchRepo) get(ctx context.Context, id string) (*domain.FailedFetch, error) {
	data, err := r.rdb.Get(ctx, entryKey(r.namespace, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.rdb.ZRem(ctx, queueKey(r.namespace), id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed fetch: %w", err)
	}

	var ff domain.FailedFetch
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed fetch: %w", err)
	}
	return &ff, nil
}

// GetNext retrieves the pending entry with the lowest retry count.
func (r *FailedFetchRepo) GetNext(ctx context.Context, name string) (*domain.FailedFetch, error) {
	ids, err := r.rdb.ZRange(ctx, queueKey(r.namespace), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	for _, id := range ids {
		ff, err := r.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ff != nil && matches(ff, name) {
			return ff, nil
		}
	}
	return nil, nil
}

// IncrementRetry increments retry count and updates last attempt.
func (r *FailedFetchRepo) IncrementRetry(ctx context.Context, id string) error {
	ff, err := r.get(ctx, id)
	if err != nil {
		return err
	}
	if ff == nil {
		return fmt.Errorf("failed fetch %s not found", id)
	}
	ff.RetryCount++
	ff.LastAttempt = time.Now()
	return r.put(ctx, ff)
}

// MarkResolved removes a failed fetch (successfully replayed).
func (r *FailedFetchRepo) MarkResolved(ctx context.Context, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, queueKey(r.namespace), id)
		pipe.Del(ctx, entryKey(r.namespace, id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to resolve failed fetch: %w", err)
	}
	return nil
}

// GetAll retrieves all pending failed fetches.
func (r *FailedFetchRepo) GetAll(ctx context.Context, name string) ([]*domain.FailedFetch, error) {
	ids, err := r.rdb.ZRange(ctx, queueKey(r.namespace), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	out := make([]*domain.FailedFetch, 0, len(ids))
	for _, id := range ids {
		ff, err := r.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ff != nil && matches(ff, name) {
			out = append(out, ff)
		}
	}
	return out, nil
}

// Count returns the count of pending failed fetches. It loads every entry so
// IDs whose blobs expired are pruned instead of counted.
func (r *FailedFetchRepo) Count(ctx context.Context, name string) (int, error) {
	all, err := r.GetAll(ctx, name)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

func matches(ff *domain.FailedFetch, name string) bool {
	return ff.Status == domain.FailedFetchStatusPending && (name == "" || ff.Name == name)
}
