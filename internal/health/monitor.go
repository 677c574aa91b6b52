package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/fetcher/internal/core/domain"
	"github.com/vietddude/fetcher/internal/infra/storage"
	"github.com/vietddude/fetcher/internal/infra/transport"
)

// JobSource exposes the latest state of every polled job.
type JobSource interface {
	Snapshot() map[string]domain.JobStatus
}

// Transport is the health surface shared by every transport.
type Transport interface {
	GetName() string
	GetHealth() transport.HealthStatus
	IsAvailable() bool
}

const (
	criticalConsecutiveFailures = 3
	criticalFailedFetches       = 50
	checkTimeout                = 2 * time.Second
)

// Monitor aggregates health status from the poller, transports and the
// dead-letter queue.
type Monitor struct {
	jobs       JobSource
	transports []Transport
	failedRepo storage.FailedFetchRepository // optional
	checks     map[string]func(context.Context) error
	cacheTTL   time.Duration
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. failedRepo may be nil.
func NewMonitor(jobs JobSource, failedRepo storage.FailedFetchRepository, transports ...Transport) *Monitor {
	return &Monitor{
		jobs:       jobs,
		transports: transports,
		failedRepo: failedRepo,
		cacheTTL:   10 * time.Second,
	}
}

// AddCheck registers a backing-service check. A failing check degrades
// the system; the poller keeps fetching without storage.
func (m *Monitor) AddCheck(name string, check func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checks == nil {
		m.checks = make(map[string]func(context.Context) error)
	}
	m.checks[name] = check
}

// SetCacheTTL sets how long a report is reused. 0 disables caching.
func (m *Monitor) SetCacheTTL(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheTTL = ttl
}

// CheckHealth builds a health report, reusing a recent one to avoid
// hammering the dead-letter store.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.cacheTTL {
		return m.lastReport
	}

	report := &HealthReport{
		SystemStatus: StatusHealthy,
		Jobs:         make(map[string]JobHealth),
		Transports:   make(map[string]TransportHealth),
	}

	if m.jobs != nil {
		for name, st := range m.jobs.Snapshot() {
			jh := JobHealth{Job: name, Status: StatusHealthy, Latest: st}

			if m.failedRepo != nil {
				if count, err := m.failedRepo.Count(ctx, name); err == nil {
					jh.FailedFetches = count
				}
			}

			switch {
			case st.ConsecutiveFailures >= criticalConsecutiveFailures || jh.FailedFetches > criticalFailedFetches:
				jh.Status = StatusCritical
			case st.ConsecutiveFailures > 0 || jh.FailedFetches > 0:
				jh.Status = StatusDegraded
			}

			report.Jobs[name] = jh
			report.SystemStatus = worst(report.SystemStatus, jh.Status)
		}
	}

	for _, t := range m.transports {
		th := TransportHealth{Name: t.GetName(), Status: StatusHealthy, Health: t.GetHealth()}
		if !t.IsAvailable() || !th.Health.Available {
			th.Status = StatusDegraded
		}
		report.Transports[th.Name] = th
		report.SystemStatus = worst(report.SystemStatus, th.Status)
	}

	if len(m.checks) > 0 {
		report.Dependencies = make(map[string]DependencyHealth, len(m.checks))
	}
	for name, check := range m.checks {
		dh := DependencyHealth{Status: StatusHealthy}
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		if err := check(checkCtx); err != nil {
			dh.Status = StatusDegraded
			dh.Error = err.Error()
		}
		cancel()
		report.Dependencies[name] = dh
		report.SystemStatus = worst(report.SystemStatus, dh.Status)
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
