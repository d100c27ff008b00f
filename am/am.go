// Package am loads easyjob configuration ("am" as in "I am configured as").
package am

import "time"

// Config represents the core easyjob configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// EngineConfig configures the execution engine worker pool
type EngineConfig struct {
	Workers                int `mapstructure:"workers"`                  // Concurrent job bodies (default: 10)
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"` // Wait for running bodies on shutdown (default: 30)
	OutputLimit            int `mapstructure:"output_limit"`             // Max runes kept in a failed run's Output (default: 2000)
}

// SchedulerConfig configures the trigger reconcile loop
type SchedulerConfig struct {
	ReconcileIntervalSeconds    int `mapstructure:"reconcile_interval_seconds"`
	RegistrySyncIntervalSeconds int `mapstructure:"registry_sync_interval_seconds"`
}

// RegistryConfig configures manifest scanning
type RegistryConfig struct {
	Dir        string `mapstructure:"dir"`
	DebounceMS int    `mapstructure:"debounce_ms"` // Quiet period before a rescan, never below 1000
	Watch      bool   `mapstructure:"watch"`
}

// RetryConfig configures the default retry policy for job bodies
type RetryConfig struct {
	MaxAttempts int     `mapstructure:"max_attempts"`
	BaseDelayMS int     `mapstructure:"base_delay_ms"`
	MaxDelayMS  int     `mapstructure:"max_delay_ms"`
	Factor      float64 `mapstructure:"factor"`
}

// FetchConfig configures the HTTP fetch helper available to job bodies
type FetchConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"` // 0 = unlimited
	Burst             int     `mapstructure:"burst"`
	CacheDir          string  `mapstructure:"cache_dir"`
	AllowPrivate      bool    `mapstructure:"allow_private"` // Permit loopback/private targets
}

// NotifyConfig configures failure notifications
type NotifyConfig struct {
	Enabled bool       `mapstructure:"enabled"`
	Debug   bool       `mapstructure:"debug"` // Suppresses sending while developing jobs
	SMTP    SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig configures the SMTP notifier
type SMTPConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures logging output
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// MinRegistryDebounce is the shortest quiet period accepted before a rescan.
const MinRegistryDebounce = time.Second

// ShutdownTimeout returns the engine shutdown timeout as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Engine.ShutdownTimeoutSeconds) * time.Second
}

// ReconcileInterval returns the scheduler reconcile interval as a duration.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Scheduler.ReconcileIntervalSeconds) * time.Second
}

// RegistrySyncInterval returns the registry sync interval as a duration.
func (c *Config) RegistrySyncInterval() time.Duration {
	return time.Duration(c.Scheduler.RegistrySyncIntervalSeconds) * time.Second
}

// RegistryDebounce returns the watcher debounce, clamped to MinRegistryDebounce.
func (c *Config) RegistryDebounce() time.Duration {
	d := time.Duration(c.Registry.DebounceMS) * time.Millisecond
	if d < MinRegistryDebounce {
		return MinRegistryDebounce
	}
	return d
}

// FetchTimeout returns the fetch timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}
