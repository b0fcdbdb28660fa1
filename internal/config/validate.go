package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}

	// Index validation
	if cfg.Index.URL == "" {
		errs = append(errs, "index.url must not be empty")
	} else if _, err := url.Parse(cfg.Index.URL); err != nil {
		errs = append(errs, fmt.Sprintf("index.url is not a valid URL: %v", err))
	}
	if cfg.Index.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("index.timeout must be non-negative, got %d", cfg.Index.Timeout))
	}

	// Warehouse validation
	if cfg.Warehouse.URL == "" {
		errs = append(errs, "warehouse.url must not be empty")
	} else if _, err := url.Parse(cfg.Warehouse.URL); err != nil {
		errs = append(errs, fmt.Sprintf("warehouse.url is not a valid URL: %v", err))
	}
	if cfg.Warehouse.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("warehouse.timeout must be non-negative, got %d", cfg.Warehouse.Timeout))
	}

	// Redis validation
	if cfg.Redis.Addr == "" {
		errs = append(errs, "redis.addr must not be empty")
	}
	if cfg.Redis.DB < 0 {
		errs = append(errs, fmt.Sprintf("redis.db must be non-negative, got %d", cfg.Redis.DB))
	}

	// Schedule validation
	if cfg.Schedule.Packages < 0 {
		errs = append(errs, fmt.Sprintf("schedule.packages must be non-negative, got %d", cfg.Schedule.Packages))
	}

	// Logging validation
	if !isValidEnum(cfg.Logging.Level, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("logging.level must be one of %v, got %q", ValidLogLevels, cfg.Logging.Level))
	}

	// Metrics validation
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen must be set when metrics.enabled is true")
	}

	// Resilience validation
	if cfg.Resilience.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("resilience.retry_max_attempts must be at least 1, got %d", cfg.Resilience.RetryMaxAttempts))
	}
	if cfg.Resilience.RetryBaseDelayMs < 0 {
		errs = append(errs, fmt.Sprintf("resilience.retry_base_delay_ms must be non-negative, got %d", cfg.Resilience.RetryBaseDelayMs))
	}
	if cfg.Resilience.CBFailureThreshold < 1 {
		errs = append(errs, fmt.Sprintf("resilience.cb_failure_threshold must be at least 1, got %d", cfg.Resilience.CBFailureThreshold))
	}
	if cfg.Resilience.CBResetTimeoutSec <= 0 {
		errs = append(errs, fmt.Sprintf("resilience.cb_reset_timeout_seconds must be positive, got %d", cfg.Resilience.CBResetTimeoutSec))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
