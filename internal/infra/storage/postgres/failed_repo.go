package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/fetcher/internal/core/domain"
)

// FailedFetchRepo implements storage.FailedFetchRepository using PostgreSQL.
type FailedFetchRepo struct {
	db *DB
}

// NewFailedFetchRepo creates a new PostgreSQL failed fetch repository.
func NewFailedFetchRepo(db *DB) *FailedFetchRepo {
	return &FailedFetchRepo{db: db}
}

type failedFetchRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Request     []byte    `db:"request"`
	Outcome     string    `db:"outcome"`
	ErrorMsg    string    `db:"error_msg"`
	Attempts    int       `db:"attempts"`
	RetryCount  int       `db:"retry_count"`
	Status      string    `db:"status"`
	LastAttempt time.Time `db:"last_attempt"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r failedFetchRow) toDomain() (*domain.FailedFetch, error) {
	ff := &domain.FailedFetch{
		ID:          r.ID,
		Name:        r.Name,
		Outcome:     domain.FetchOutcome(r.Outcome),
		Error:       r.ErrorMsg,
		Attempts:    r.Attempts,
		RetryCount:  r.RetryCount,
		Status:      domain.FailedFetchStatus(r.Status),
		LastAttempt: r.LastAttempt,
		CreatedAt:   r.CreatedAt,
	}
	if err := json.Unmarshal(r.Request, &ff.Request); err != nil {
		return nil, fmt.Errorf("failed to decode request of failed fetch %s: %w", r.ID, err)
	}
	return ff, nil
}

const (
	insertFailedFetch = `
		INSERT INTO failed_fetches (id, name, request, outcome, error_msg, attempts, retry_count, status, last_attempt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`
	selectFailedFetch = `
		SELECT id, name, request, outcome, error_msg, attempts, retry_count, status, last_attempt, created_at
		FROM failed_fetches
		WHERE ($1 = '' OR name = $1) AND status = 'pending'
	`
)

func failedFetchArgs(ff *domain.FailedFetch) ([]any, error) {
	if ff.ID == "" {
		ff.ID = uuid.NewString()
	}
	status := ff.Status
	if status == "" {
		status = domain.FailedFetchStatusPending
	}
	req, err := json.Marshal(ff.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return []any{
		ff.ID,
		ff.Name,
		req,
		string(ff.Outcome),
		ff.Error,
		ff.Attempts,
		ff.RetryCount,
		string(status),
	}, nil
}

// Add adds a failed fetch.
func (r *FailedFetchRepo) Add(ctx context.Context, ff *domain.FailedFetch) error {
	args, err := failedFetchArgs(ff)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, insertFailedFetch, args...); err != nil {
		return fmt.Errorf("failed to add failed fetch: %w", err)
	}
	return nil
}

// GetNext returns the pending failed fetch with the oldest attempt.
func (r *FailedFetchRepo) GetNext(ctx context.Context, name string) (*domain.FailedFetch, error) {
	query := selectFailedFetch + `
		ORDER BY last_attempt ASC
		LIMIT 1
	`

	var dest failedFetchRow
	err := r.db.GetContext(ctx, &dest, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // No pending failed fetches
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed fetch: %w", err)
	}
	return dest.toDomain()
}

// IncrementRetry increments retry count and updates timestamp.
func (r *FailedFetchRepo) IncrementRetry(ctx context.Context, id string) error {
	query := `
		UPDATE failed_fetches
		SET retry_count = retry_count + 1, last_attempt = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment retry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed fetch %s not found", id)
	}
	return nil
}

// MarkResolved marks a failed fetch as resolved.
func (r *FailedFetchRepo) MarkResolved(ctx context.Context, id string) error {
	query := `
		UPDATE failed_fetches
		SET status = 'resolved'
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to resolve failed fetch: %w", err)
	}
	return nil
}

// GetAll returns all pending failed fetches, oldest attempt first.
func (r *FailedFetchRepo) GetAll(ctx context.Context, name string) ([]*domain.FailedFetch, error) {
	var rows []failedFetchRow
	if err := r.db.SelectContext(ctx, &rows, selectFailedFetch+" ORDER BY last_attempt ASC", name); err != nil {
		return nil, fmt.Errorf("failed to get all failed fetches: %w", err)
	}

	out := make([]*domain.FailedFetch, 0, len(rows))
	for _, row := range rows {
		ff, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, ff)
	}
	return out, nil
}

// Count returns the number of pending failed fetches.
func (r *FailedFetchRepo) Count(ctx context.Context, name string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM failed_fetches
		WHERE ($1 = '' OR name = $1) AND status = 'pending'
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, name); err != nil {
		return 0, fmt.Errorf("failed to count failed fetches: %w", err)
	}
	return count, nil
}
