package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vietddude/fetcher/internal/core/domain"
	"github.com/vietddude/fetcher/internal/fetch"
)

var (
	// FetchesTotal tracks finished fetches per job and outcome
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetcher_fetches_total",
			Help: "Total number of fetches by outcome",
		},
		[]string{"job", "outcome"},
	)

	// AttemptsTotal tracks outbound calls, including retries
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetcher_attempts_total",
			Help: "Total number of fetch attempts",
		},
		[]string{"job"},
	)

	// RetriesTotal tracks retries per job and error type
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetcher_retries_total",
			Help: "Total number of retried attempts",
		},
		[]string{"job", "error_type"},
	)

	// BackoffSeconds tracks the delays chosen between attempts
	BackoffSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetcher_backoff_seconds",
			Help:    "Backoff delay before a retry in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"job"},
	)

	// FetchDuration tracks the wall time of a whole fetch
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetcher_fetch_duration_seconds",
			Help:    "Fetch duration in seconds, backoff included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job", "outcome"},
	)

	// FailedFetchesPending tracks the dead-letter backlog
	FailedFetchesPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetcher_failed_fetches_pending",
			Help: "Number of failed fetches waiting for replay",
		},
	)

	// DBConnectionPoolUsage tracks open connections as a percentage of the pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetcher_db_connection_pool_usage_percent",
			Help: "Database connection pool usage in percent",
		},
	)
)

// Observer exports fetch events as Prometheus metrics.
type Observer struct{}

var _ fetch.Observer = Observer{}

func (Observer) OnAttempt(_ context.Context, req *domain.Request, _ int) {
	AttemptsTotal.WithLabelValues(jobLabel(req)).Inc()
}

func (Observer) OnRetry(_ context.Context, req *domain.Request, _ int, err error, delay time.Duration) {
	job := jobLabel(req)
	RetriesTotal.WithLabelValues(job, ErrorType(err)).Inc()
	BackoffSeconds.WithLabelValues(job).Observe(delay.Seconds())
}

func (Observer) OnOutcome(_ context.Context, req *domain.Request, o fetch.Outcome) {
	job := jobLabel(req)
	FetchesTotal.WithLabelValues(job, string(o.Result)).Inc()
	FetchDuration.WithLabelValues(job, string(o.Result)).Observe(o.Duration.Seconds())
}

// ErrorType buckets err into a low-cardinality label value.
func ErrorType(err error) string {
	var (
		te *fetch.TransportError
		ae *fetch.ApplicationError
		de *fetch.DecodeError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &te):
		return "transport"
	case errors.As(err, &ae):
		return "application"
	case errors.As(err, &de):
		return "decode"
	default:
		return "unknown"
	}
}

// Ad-hoc requests share one label so targets never become label values.
func jobLabel(req *domain.Request) string {
	if req.Name == "" {
		return "adhoc"
	}
	return req.Name
}
