package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for the carrier synchronizer.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     toml:"server"`
	Index      IndexConfig      `mapstructure:"index"      toml:"index"`
	Warehouse  WarehouseConfig  `mapstructure:"warehouse"  toml:"warehouse"`
	Redis      RedisConfig      `mapstructure:"redis"      toml:"redis"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"   toml:"schedule"`
	Logging    LoggingConfig    `mapstructure:"logging"    toml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"    toml:"metrics"`
	Resilience ResilienceConfig `mapstructure:"resilience" toml:"resilience"`
}

// ServerConfig holds the daemon's local settings.
type ServerConfig struct {
	DataDir string `mapstructure:"data_dir" toml:"data_dir"`
}

// IndexConfig describes the upstream package index RPC endpoint.
type IndexConfig struct {
	URL string `mapstructure:"url" toml:"url"`
	// SSLVerify is "true", "false", or the path to a CA bundle.
	SSLVerify string `mapstructure:"ssl_verify" toml:"ssl_verify"`
	Timeout   int    `mapstructure:"timeout"    toml:"timeout"` // seconds
}

// TimeoutDuration returns the index HTTP timeout as a time.Duration.
func (c IndexConfig) TimeoutDuration() time.Duration {
	if c.Timeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// Verify reports whether TLS verification is enabled and, when a CA bundle
// path is configured, that path.
func (c IndexConfig) Verify() (verify bool, caBundle string) {
	switch strings.ToLower(strings.TrimSpace(c.SSLVerify)) {
	case "", "true", "yes", "on", "1":
		return true, ""
	case "false", "no", "off", "0":
		return false, ""
	default:
		return true, c.SSLVerify
	}
}

// WarehouseConfig describes the downstream catalog REST endpoint.
type WarehouseConfig struct {
	URL     string     `mapstructure:"url"     toml:"url"`
	Auth    AuthConfig `mapstructure:"auth"    toml:"auth"`
	Timeout int        `mapstructure:"timeout" toml:"timeout"` // seconds
}

// TimeoutDuration returns the warehouse HTTP timeout as a time.Duration.
func (c WarehouseConfig) TimeoutDuration() time.Duration {
	if c.Timeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// AuthConfig holds warehouse basic-auth credentials. An empty password is
// resolved through the credential vault at startup.
type AuthConfig struct {
	Username string `mapstructure:"username" toml:"username"`
	Password string `mapstructure:"password" toml:"password"`
}

// RedisConfig holds the key-value store connection parameters.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"     toml:"addr"`
	Password string `mapstructure:"password" toml:"password"`
	DB       int    `mapstructure:"db"       toml:"db"`
	// Prefix is prepended to every store key.
	Prefix string `mapstructure:"prefix" toml:"prefix"`
}

// ScheduleConfig controls the periodic jobs. Intervals are in seconds;
// zero disables the job.
type ScheduleConfig struct {
	Packages int `mapstructure:"packages" toml:"packages"`
}

// PackagesInterval returns the sync tick interval as a time.Duration.
func (c ScheduleConfig) PackagesInterval() time.Duration {
	return time.Duration(c.Packages) * time.Second
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level   string `mapstructure:"level"   toml:"level"`
	Console bool   `mapstructure:"console" toml:"console"`
}

// MetricsConfig controls the ops HTTP server (/healthz, /status, /metrics).
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Listen  string `mapstructure:"listen"  toml:"listen"`
}

// ResilienceConfig controls retry and circuit breaker behaviour for the
// index and warehouse HTTP surfaces.
type ResilienceConfig struct {
	RetryMaxAttempts   int  `mapstructure:"retry_max_attempts"       toml:"retry_max_attempts"`
	RetryBaseDelayMs   int  `mapstructure:"retry_base_delay_ms"      toml:"retry_base_delay_ms"`
	CBEnabled          bool `mapstructure:"circuit_breaker_enabled"  toml:"circuit_breaker_enabled"`
	CBFailureThreshold int  `mapstructure:"cb_failure_threshold"     toml:"cb_failure_threshold"`
	CBResetTimeoutSec  int  `mapstructure:"cb_reset_timeout_seconds" toml:"cb_reset_timeout_seconds"`
}

// RetryBaseDelay returns the initial retry delay as a time.Duration.
func (c ResilienceConfig) RetryBaseDelay() time.Duration {
	if c.RetryBaseDelayMs <= 0 {
		return time.Second
	}
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (CARRIER_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.carrier/carrier.toml
//  4. ./carrier.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: CARRIER_REDIS_ADDR etc.
	v.SetEnvPrefix("CARRIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Determine which file(s) to read.
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".carrier"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("carrier")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Store the resolved config file path.
	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Expand ~ in data_dir.
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// LoadedFile returns the path of the config file used by the last
// successful Load, or "" if configuration came from defaults and env only.
func LoadedFile() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// InitConfig writes the default configuration file to ~/.carrier/carrier.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".carrier")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(dir, "carrier.toml")
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config file already exists at %s\n", path)
		return nil
	}

	data, err := toml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return homeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
