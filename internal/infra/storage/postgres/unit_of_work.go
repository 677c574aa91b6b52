package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/fetcher/internal/core/domain"
)

// UnitOfWork bundles persistence operations into a single database
// transaction, ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// SaveRecord inserts a fetch record within the transaction.
func (u *UnitOfWork) SaveRecord(ctx context.Context, rec *domain.FetchRecord) error {
	if _, err := u.tx.ExecContext(ctx, insertFetchLog, fetchLogArgs(rec)...); err != nil {
		return fmt.Errorf("failed to save fetch record: %w", err)
	}
	return nil
}

// AddFailed inserts a dead-letter entry within the transaction.
func (u *UnitOfWork) AddFailed(ctx context.Context, ff *domain.FailedFetch) error {
	args, err := failedFetchArgs(ff)
	if err != nil {
		return err
	}
	if _, err := u.tx.ExecContext(ctx, insertFailedFetch, args...); err != nil {
		return fmt.Errorf("failed to add failed fetch: %w", err)
	}
	return nil
}
