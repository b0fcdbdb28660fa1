package config

import "github.com/spf13/viper"

// DefaultIndexURL is the default package index RPC endpoint.
const DefaultIndexURL = "https://pypi.python.org/pypi"

// DefaultWarehouseURL is the default warehouse REST base URL.
const DefaultWarehouseURL = "https://api.crate.io/v1/"

// DefaultRedisAddr is the default key-value store address.
const DefaultRedisAddr = "127.0.0.1:6379"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.carrier"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "carrier.toml"

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultPackagesInterval is the default sync tick interval in seconds.
const DefaultPackagesInterval = 30

// DefaultHTTPTimeout is the default HTTP timeout in seconds for index and
// warehouse calls.
const DefaultHTTPTimeout = 60

// DefaultMetricsListen is the default ops server bind address.
const DefaultMetricsListen = "127.0.0.1:9099"

// DefaultRetryMaxAttempts is the default maximum number of attempts per
// network operation.
const DefaultRetryMaxAttempts = 10

// DefaultRetryBaseDelayMs is the default initial delay for exponential
// backoff in milliseconds.
const DefaultRetryBaseDelayMs = 1000

// DefaultCBFailureThreshold is the default number of consecutive failures
// before opening the circuit.
const DefaultCBFailureThreshold = 5

// DefaultCBResetTimeout is the default circuit breaker reset timeout in seconds.
const DefaultCBResetTimeout = 60

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			DataDir: DefaultDataDir,
		},
		Index: IndexConfig{
			URL:       DefaultIndexURL,
			SSLVerify: "true",
			Timeout:   DefaultHTTPTimeout,
		},
		Warehouse: WarehouseConfig{
			URL:     DefaultWarehouseURL,
			Timeout: DefaultHTTPTimeout,
		},
		Redis: RedisConfig{
			Addr: DefaultRedisAddr,
		},
		Schedule: ScheduleConfig{
			Packages: DefaultPackagesInterval,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  DefaultMetricsListen,
		},
		Resilience: ResilienceConfig{
			RetryMaxAttempts:   DefaultRetryMaxAttempts,
			RetryBaseDelayMs:   DefaultRetryBaseDelayMs,
			CBEnabled:          true,
			CBFailureThreshold: DefaultCBFailureThreshold,
			CBResetTimeoutSec:  DefaultCBResetTimeout,
		},
	}
}

// setViperDefaults registers every known key with viper so that env var
// binding works even for keys absent from the config file.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server
	v.SetDefault("server.data_dir", d.Server.DataDir)

	// Index
	v.SetDefault("index.url", d.Index.URL)
	v.SetDefault("index.ssl_verify", d.Index.SSLVerify)
	v.SetDefault("index.timeout", d.Index.Timeout)

	// Warehouse
	v.SetDefault("warehouse.url", d.Warehouse.URL)
	v.SetDefault("warehouse.auth.username", d.Warehouse.Auth.Username)
	v.SetDefault("warehouse.auth.password", d.Warehouse.Auth.Password)
	v.SetDefault("warehouse.timeout", d.Warehouse.Timeout)

	// Redis
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.prefix", d.Redis.Prefix)

	// Schedule
	v.SetDefault("schedule.packages", d.Schedule.Packages)

	// Logging
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.console", d.Logging.Console)

	// Metrics
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)

	// Resilience
	v.SetDefault("resilience.retry_max_attempts", d.Resilience.RetryMaxAttempts)
	v.SetDefault("resilience.retry_base_delay_ms", d.Resilience.RetryBaseDelayMs)
	v.SetDefault("resilience.circuit_breaker_enabled", d.Resilience.CBEnabled)
	v.SetDefault("resilience.cb_failure_threshold", d.Resilience.CBFailureThreshold)
	v.SetDefault("resilience.cb_reset_timeout_seconds", d.Resilience.CBResetTimeoutSec)
}
