package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/fetcher/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.applyDefaults()
	return &cfg
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	c.Retry = c.Retry.WithDefaults()

	for i := range c.Jobs {
		if c.Jobs[i].Interval == 0 {
			c.Jobs[i].Interval = 30 * time.Second
		}
		if c.Jobs[i].Protocol == "" {
			c.Jobs[i].Protocol = domain.ProtocolHTTP
		}
		if c.Jobs[i].Validator == "" {
			c.Jobs[i].Validator = "default"
		}
	}
}

// Validate reports every invalid setting at once.
func (c *AppConfig) Validate() error {
	var errs []error

	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging: unknown format %q", c.Logging.Format))
	}

	seen := make(map[string]bool, len(c.Jobs))
	for i, job := range c.Jobs {
		prefix := fmt.Sprintf("jobs[%d]", i)
		if job.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", prefix))
		} else if seen[job.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate name %q", prefix, job.Name))
		}
		seen[job.Name] = true

		if job.Target == "" {
			errs = append(errs, fmt.Errorf("%s: target is required", prefix))
		}
		if job.Interval < 0 {
			errs = append(errs, fmt.Errorf("%s: interval must not be negative", prefix))
		}
		switch job.Protocol {
		case domain.ProtocolHTTP:
		case domain.ProtocolGRPC:
			if c.GRPC.Endpoint == "" {
				errs = append(errs, fmt.Errorf("%s: grpc job needs grpc.endpoint", prefix))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown protocol %q", prefix, job.Protocol))
		}
		switch job.Validator {
		case "default", "jsonrpc":
		default:
			errs = append(errs, fmt.Errorf("%s: unknown validator %q", prefix, job.Validator))
		}
		if err := job.RetryFor(c.Retry).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: retry: %w", prefix, err))
		}
	}

	if c.Storage.Retention < 0 {
		errs = append(errs, errors.New("storage: retention must not be negative"))
	}

	return errors.Join(errs...)
}
