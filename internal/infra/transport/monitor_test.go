package transport

import (
	"net/http"
	"testing"
	"time"
)

func TestMonitorAccumulation(t *testing.T) {
	m := NewMonitor()

	m.RecordRequest(100 * time.Millisecond)

	stats := m.GetStats()
	if stats.RequestsLastHour != 1 {
		t.Errorf("Expected 1 request, got %d", stats.RequestsLastHour)
	}

	for i := 0; i < 100; i++ {
		m.RecordRequest(50 * time.Millisecond)
	}

	stats = m.GetStats()
	if stats.RequestsLastHour != 101 {
		t.Errorf("Expected 101 requests, got %d", stats.RequestsLastHour)
	}
	// Latency window keeps the last 100 samples only.
	if stats.AverageLatency != 50*time.Millisecond {
		t.Errorf("Expected average latency 50ms, got %v", stats.AverageLatency)
	}
}

func TestMonitorThrottleStatus(t *testing.T) {
	m := NewMonitor()
	if m.CheckStatus() != StatusHealthy {
		t.Fatalf("Expected healthy monitor, got %v", m.CheckStatus())
	}

	m.RecordThrottle(http.StatusTooManyRequests, "120")
	if got := m.CheckStatus(); got != StatusThrottled {
		t.Errorf("Expected throttled after 429, got %v", got)
	}
	if ra := m.GetRetryAfter(); ra <= 110*time.Second || ra > 120*time.Second {
		t.Errorf("Expected retry after close to 120s, got %v", ra)
	}

	m.RecordThrottle(http.StatusForbidden, "")
	if got := m.CheckStatus(); got != StatusBlocked {
		t.Errorf("Expected blocked after 403, got %v", got)
	}

	stats := m.GetStats()
	if stats.ThrottleCount429 != 1 || stats.ThrottleCount403 != 1 {
		t.Errorf("Unexpected throttle counts: %+v", stats)
	}
}

func TestMonitorDegradedOnSlowResponses(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < 11; i++ {
		m.RecordRequest(5 * time.Second)
	}
	if got := m.CheckStatus(); got != StatusDegraded {
		t.Errorf("Expected degraded, got %v", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{"-5", 0},
		{"soon", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		if got := ParseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
