package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/fetcher/internal/core/domain"
)

// FetchLogRepo implements storage.FetchLogRepository using PostgreSQL.
type FetchLogRepo struct {
	db *DB
}

// NewFetchLogRepo creates a new PostgreSQL fetch log repository.
func NewFetchLogRepo(db *DB) *FetchLogRepo {
	return &FetchLogRepo{db: db}
}

type fetchLogRow struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	Target     string    `db:"target"`
	Method     string    `db:"method"`
	Outcome    string    `db:"outcome"`
	Attempts   int       `db:"attempts"`
	StatusCode int       `db:"status_code"`
	ErrorMsg   string    `db:"error_msg"`
	DurationMs int64     `db:"duration_ms"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r fetchLogRow) toDomain() *domain.FetchRecord {
	return &domain.FetchRecord{
		ID:         r.ID,
		Name:       r.Name,
		Target:     r.Target,
		Method:     r.Method,
		Outcome:    domain.FetchOutcome(r.Outcome),
		Attempts:   r.Attempts,
		StatusCode: r.StatusCode,
		Error:      r.ErrorMsg,
		Duration:   time.Duration(r.DurationMs) * time.Millisecond,
		CreatedAt:  r.CreatedAt,
	}
}

const insertFetchLog = `
	INSERT INTO fetch_log (id, name, target, method, outcome, attempts, status_code, error_msg, duration_ms, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

func fetchLogArgs(rec *domain.FetchRecord) []any {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return []any{
		rec.ID,
		rec.Name,
		rec.Target,
		rec.Method,
		string(rec.Outcome),
		rec.Attempts,
		rec.StatusCode,
		rec.Error,
		rec.Duration.Milliseconds(),
		createdAt,
	}
}

// Save stores a fetch record.
func (r *FetchLogRepo) Save(ctx context.Context, rec *domain.FetchRecord) error {
	if _, err := r.db.ExecContext(ctx, insertFetchLog, fetchLogArgs(rec)...); err != nil {
		return fmt.Errorf("failed to save fetch record: %w", err)
	}
	return nil
}

// ListRecent returns the newest records first.
func (r *FetchLogRepo) ListRecent(ctx context.Context, name string, limit int) ([]*domain.FetchRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, name, target, method, outcome, attempts, status_code, error_msg, duration_ms, created_at
		FROM fetch_log
		WHERE ($1 = '' OR name = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`

	var rows []fetchLogRow
	if err := r.db.SelectContext(ctx, &rows, query, name, limit); err != nil {
		return nil, fmt.Errorf("failed to list fetch records: %w", err)
	}

	records := make([]*domain.FetchRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toDomain())
	}
	return records, nil
}

// DeleteOlderThan prunes records created before the cutoff.
func (r *FetchLogRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM fetch_log WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune fetch log: %w", err)
	}
	return res.RowsAffected()
}

// SaveOutcome stores rec and, when ff is not nil, its dead-letter entry in
// one transaction.
func (r *FetchLogRepo) SaveOutcome(ctx context.Context, rec *domain.FetchRecord, ff *domain.FailedFetch) error {
	uow, err := r.db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.SaveRecord(ctx, rec); err != nil {
		return err
	}
	if ff != nil {
		if err := uow.AddFailed(ctx, ff); err != nil {
			return err
		}
	}
	return uow.Commit()
}
