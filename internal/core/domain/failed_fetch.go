package domain

import "time"

// FailedFetch is a fetch that ended without a payload and is kept for replay.
type FailedFetch struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Request     Request           `json:"request"`
	Outcome     FetchOutcome      `json:"outcome"`
	Error       string            `json:"error_msg"`
	Attempts    int               `json:"attempts"`
	RetryCount  int               `json:"retry_count"`
	Status      FailedFetchStatus `json:"status"`
	LastAttempt time.Time         `json:"last_attempt"`
	CreatedAt   time.Time         `json:"created_at"`
}

type FailedFetchStatus string

const (
	FailedFetchStatusPending  FailedFetchStatus = "pending"
	FailedFetchStatusResolved FailedFetchStatus = "resolved"
	FailedFetchStatusIgnored  FailedFetchStatus = "ignored"
)
