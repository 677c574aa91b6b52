package domain

import "time"

// FetchOutcome is the terminal outcome of one fetch invocation.
type FetchOutcome string

const (
	OutcomeSucceeded    FetchOutcome = "succeeded"
	OutcomeExhausted    FetchOutcome = "exhausted"
	OutcomeDecodeFailed FetchOutcome = "decode_failed"
	OutcomeCanceled     FetchOutcome = "canceled"
)

// FetchRecord is the audit entry written once per fetch invocation.
type FetchRecord struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Target     string        `json:"target"`
	Method     string        `json:"method"`
	Outcome    FetchOutcome  `json:"outcome"`
	Attempts   int           `json:"attempts"`
	StatusCode int           `json:"status_code"`
	Error      string        `json:"error"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}
