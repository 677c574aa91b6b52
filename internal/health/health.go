// Package health provides system health monitoring and status reporting.
package health

import (
	"github.com/vietddude/fetcher/internal/core/domain"
	"github.com/vietddude/fetcher/internal/infra/transport"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// JobHealth contains health metrics for a polled job.
type JobHealth struct {
	Job           string           `json:"job"`
	Status        SystemStatus     `json:"status"`
	Latest        domain.JobStatus `json:"latest"`
	FailedFetches int              `json:"failed_fetches"`
}

// TransportHealth contains the health of one transport.
type TransportHealth struct {
	Name   string                 `json:"name"`
	Status SystemStatus           `json:"status"`
	Health transport.HealthStatus `json:"health"`
}

// DependencyHealth is the result of one backing-service check.
type DependencyHealth struct {
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus                `json:"system_status"`
	Jobs         map[string]JobHealth        `json:"jobs"`
	Transports   map[string]TransportHealth  `json:"transports"`
	Dependencies map[string]DependencyHealth `json:"dependencies,omitempty"`
}

// worst returns the more severe of two statuses.
func worst(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
