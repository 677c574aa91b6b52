package control

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/fetcher/internal/core/domain"
	"github.com/vietddude/fetcher/internal/fetch"
	"github.com/vietddude/fetcher/internal/infra/storage"
)

// Recorder is a fetch.Observer that writes one audit record per fetch and
// dead-letters fetches that ended exhausted or undecodable.
type Recorder struct {
	logRepo    storage.FetchLogRepository
	failedRepo storage.FailedFetchRepository // nil disables dead-lettering
	atomic     storage.OutcomeWriter
	timeout    time.Duration
	log        *slog.Logger
}

var _ fetch.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder. Either repository may be nil.
func NewRecorder(logRepo storage.FetchLogRepository, failedRepo storage.FailedFetchRepository) *Recorder {
	return &Recorder{
		logRepo:    logRepo,
		failedRepo: failedRepo,
		timeout:    5 * time.Second,
		log:        slog.Default(),
	}
}

// WithAtomicWriter makes the recorder store the record and its dead-letter
// entry through w in one step. Use it only when w backs both repositories.
func (r *Recorder) WithAtomicWriter(w storage.OutcomeWriter) *Recorder {
	r.atomic = w
	return r
}

func (r *Recorder) OnAttempt(context.Context, *domain.Request, int) {}

func (r *Recorder) OnRetry(context.Context, *domain.Request, int, error, time.Duration) {}

// OnOutcome persists the outcome. Storage runs on a context detached from
// the fetch so canceled fetches are still recorded.
func (r *Recorder) OnOutcome(ctx context.Context, req *domain.Request, o fetch.Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	rec := o.Record(req, time.Now())

	var ff *domain.FailedFetch
	if r.failedRepo != nil && deadLetter(o.Result) {
		ff = &domain.FailedFetch{
			Name:     req.Name,
			Request:  *req,
			Outcome:  o.Result,
			Error:    rec.Error,
			Attempts: o.Attempts,
			Status:   domain.FailedFetchStatusPending,
		}
	}

	if r.atomic != nil {
		if err := r.atomic.SaveOutcome(ctx, rec, ff); err != nil {
			r.log.Warn("Failed to record fetch outcome", "request_id", o.RequestID, "error", err)
		}
		return
	}

	if r.logRepo != nil {
		if err := r.logRepo.Save(ctx, rec); err != nil {
			r.log.Warn("Failed to save fetch record", "request_id", o.RequestID, "error", err)
		}
	}
	if ff != nil {
		if err := r.failedRepo.Add(ctx, ff); err != nil {
			r.log.Warn("Failed to dead-letter fetch", "request_id", o.RequestID, "error", err)
			return
		}
		r.log.Info("Fetch dead-lettered", "request_id", o.RequestID, "id", ff.ID, "job", req.Name)
	}
}

func deadLetter(o domain.FetchOutcome) bool {
	return o == domain.OutcomeExhausted || o == domain.OutcomeDecodeFailed
}
