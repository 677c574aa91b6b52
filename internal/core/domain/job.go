package domain

import "time"

// JobStatus is the latest known state of a polled job.
type JobStatus struct {
	Name                string       `json:"name"`
	LastOutcome         FetchOutcome `json:"last_outcome"`
	LastError           string       `json:"last_error,omitempty"`
	LastAttempts        int          `json:"last_attempts"`
	LastStatusCode      int          `json:"last_status_code"`
	LastRunAt           time.Time    `json:"last_run_at"`
	LastSuccessAt       time.Time    `json:"last_success_at,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Runs                int          `json:"runs"`
}
