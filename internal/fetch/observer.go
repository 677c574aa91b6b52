package fetch

import (
	"context"
	"time"

	"github.com/vietddude/fetcher/internal/core/domain"
)

// Observer receives retry loop events. Implementations must be safe for
// concurrent use since one Fetcher serves many goroutines.
type Observer interface {
	OnAttempt(ctx context.Context, req *domain.Request, attempt int)
	OnRetry(ctx context.Context, req *domain.Request, attempt int, err error, delay time.Duration)
	OnOutcome(ctx context.Context, req *domain.Request, outcome Outcome)
}

// Outcome summarises a finished fetch.
type Outcome struct {
	RequestID  string
	Result     domain.FetchOutcome
	Attempts   int
	StatusCode int
	Err        error
	Duration   time.Duration
}

// Record converts the outcome into an audit record for req.
func (o Outcome) Record(req *domain.Request, at time.Time) *domain.FetchRecord {
	rec := &domain.FetchRecord{
		ID:         o.RequestID,
		Name:       req.Name,
		Target:     req.Target,
		Method:     req.Method,
		Outcome:    o.Result,
		Attempts:   o.Attempts,
		StatusCode: o.StatusCode,
		Duration:   o.Duration,
		CreatedAt:  at,
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	return rec
}

type multiObserver []Observer

func (m multiObserver) OnAttempt(ctx context.Context, req *domain.Request, attempt int) {
	for _, o := range m {
		o.OnAttempt(ctx, req, attempt)
	}
}

func (m multiObserver) OnRetry(ctx context.Context, req *domain.Request, attempt int, err error, delay time.Duration) {
	for _, o := range m {
		o.OnRetry(ctx, req, attempt, err, delay)
	}
}

func (m multiObserver) OnOutcome(ctx context.Context, req *domain.Request, outcome Outcome) {
	for _, o := range m {
		o.OnOutcome(ctx, req, outcome)
	}
}
