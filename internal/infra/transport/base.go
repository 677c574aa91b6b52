// Package transport implements fetch.Transport over HTTP and gRPC.
//
// This package contains:
//   - BaseTransport: health tracking shared by every transport
//   - Monitor: throttle and latency tracking
//   - HTTPTransport: net/http with optional rate limiting and circuit breaking
//   - GRPCTransport: unary gRPC calls carrying raw protobuf bytes
package transport

import (
	"sync"
	"time"
)

// HealthStatus represents the health state of a transport.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at,omitempty"`
	MonitorStats  *MonitorStats `json:"monitor_stats,omitempty"`
}

// BaseTransport implements common transport functionality.
// It handles health tracking, metrics, and basic status checks.
type BaseTransport struct {
	Name string

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int

	Monitor *Monitor
}

// NewBaseTransport creates a new BaseTransport.
func NewBaseTransport(name string) *BaseTransport {
	return &BaseTransport{
		Name: name,
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
		Monitor: NewMonitor(),
	}
}

// GetName returns the transport's name.
func (b *BaseTransport) GetName() string {
	return b.Name
}

// GetHealth returns the transport's health status.
func (b *BaseTransport) GetHealth() HealthStatus {
	b.mu.RLock()
	h := b.health
	b.mu.RUnlock()

	stats := b.Monitor.GetStats()
	h.MonitorStats = &stats
	return h
}

// IsAvailable checks if the transport is healthy enough to use.
func (b *BaseTransport) IsAvailable() bool {
	status := b.Monitor.CheckStatus()
	return status == StatusHealthy || status == StatusDegraded
}

func (b *BaseTransport) RecordSuccess(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount++
	b.requestCount++
	b.totalLatency += latency
	b.health.LastSuccessAt = time.Now()
	b.health.Available = true

	if b.requestCount > 0 {
		b.health.ErrorRate = float64(b.failureCount) / float64(b.requestCount)
	}
	if b.successCount > 0 {
		b.health.Latency = b.totalLatency / time.Duration(b.successCount)
	}

	b.Monitor.RecordRequest(latency)
}

func (b *BaseTransport) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.requestCount++
	b.health.LastFailureAt = time.Now()

	if b.requestCount > 0 {
		b.health.ErrorRate = float64(b.failureCount) / float64(b.requestCount)
	}

	if b.health.ErrorRate > 0.5 {
		b.health.Available = false
	}
}
