package config

import (
	"time"

	"github.com/vietddude/fetcher/internal/core/domain"
	"github.com/vietddude/fetcher/internal/fetch"
	redisclient "github.com/vietddude/fetcher/internal/infra/redis"
	"github.com/vietddude/fetcher/internal/infra/storage/postgres"
	"github.com/vietddude/fetcher/internal/infra/transport"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig         `yaml:"server"`
	Logging   LoggingConfig        `yaml:"logging"`
	Retry     fetch.RetryConfig    `yaml:"retry"`
	Transport transport.HTTPConfig `yaml:"transport"`
	GRPC      transport.GRPCConfig `yaml:"grpc"`
	Jobs      []JobConfig          `yaml:"jobs"`
	Storage   StorageConfig        `yaml:"storage"`
	Redis     redisclient.Config   `yaml:"redis"`
	Database  postgres.Config      `yaml:"database"`
}

// StorageConfig holds settings shared by every storage backend.
type StorageConfig struct {
	Retention  time.Duration `yaml:"retention"`   // 0 = keep forever
	MaxReplays int           `yaml:"max_replays"` // 0 = unlimited
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// Concurrency caps in-flight fetches per poll tick. 0 = unbounded.
	Concurrency int `yaml:"concurrency"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// JobConfig describes a request the poller fetches on an interval.
type JobConfig struct {
	Name     string          `yaml:"name"`
	Protocol domain.Protocol `yaml:"protocol"` // http (default) or grpc
	Method   string          `yaml:"method"`
	// Target is a URL for HTTP jobs and a full method name for gRPC jobs.
	Target   string            `yaml:"target"`
	Headers  map[string]string `yaml:"headers"`
	Body     string            `yaml:"body"`
	Interval time.Duration     `yaml:"interval"`
	// Validator is "default" or "jsonrpc".
	Validator string `yaml:"validator"`
	// Retry overrides the top-level retry settings field by field.
	Retry fetch.RetryConfig `yaml:"retry"`
}

// Request builds the replayable request for the job.
func (j JobConfig) Request() *domain.Request {
	var body []byte
	if j.Body != "" {
		body = []byte(j.Body)
	}
	return domain.NewRequest(j.Method, j.Target, j.Headers, body).WithName(j.Name)
}

// RetryFor merges the job override over base.
func (j JobConfig) RetryFor(base fetch.RetryConfig) fetch.RetryConfig {
	out := base
	if j.Retry.MaxAttempts != 0 {
		out.MaxAttempts = j.Retry.MaxAttempts
	}
	if j.Retry.BaseDelay != 0 {
		out.BaseDelay = j.Retry.BaseDelay
	}
	if j.Retry.MaxDelay != 0 {
		out.MaxDelay = j.Retry.MaxDelay
	}
	if j.Retry.BackoffMultiple != 0 {
		out.BackoffMultiple = j.Retry.BackoffMultiple
	}
	if j.Retry.Jitter != 0 {
		out.Jitter = j.Retry.Jitter
	}
	return out
}
