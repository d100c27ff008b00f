package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// Default values shared between SetDefaults and the getters below
const (
	DefaultDatabasePath  = "easyjob.db"
	DefaultServerAddr    = "127.0.0.1:8686"
	DefaultWorkers       = 10
	DefaultOutputLimit   = 2000
	DefaultRegistryDir   = "jobs.d"
	DefaultFetchCacheDir = "cache"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	// Engine
	v.SetDefault("engine.workers", DefaultWorkers)
	v.SetDefault("engine.shutdown_timeout_seconds", 30)
	v.SetDefault("engine.output_limit", DefaultOutputLimit)

	// Scheduler
	v.SetDefault("scheduler.reconcile_interval_seconds", 30)
	v.SetDefault("scheduler.registry_sync_interval_seconds", 60)

	// Registry manifests
	v.SetDefault("registry.dir", DefaultRegistryDir)
	v.SetDefault("registry.debounce_ms", 1000)
	v.SetDefault("registry.watch", true)

	// Retry policy used by job bodies
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("retry.max_delay_ms", 60000)
	v.SetDefault("retry.factor", 2.0)

	// Fetch helper
	v.SetDefault("fetch.timeout_seconds", 10)
	v.SetDefault("fetch.requests_per_second", 2.0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.cache_dir", DefaultFetchCacheDir)
	v.SetDefault("fetch.allow_private", false)

	// Notifications
	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.debug", false)
	v.SetDefault("notify.smtp.host", "")
	v.SetDefault("notify.smtp.port", 587)
	v.SetDefault("notify.smtp.user", "")
	v.SetDefault("notify.smtp.from", "")
	v.SetDefault("notify.smtp.to", []string{})

	v.SetDefault("server.addr", DefaultServerAddr)

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "EASYJOB_DATABASE_PATH")
	v.BindEnv("notify.smtp.user", "EASYJOB_NOTIFY_SMTP_USER")
	v.BindEnv("notify.smtp.password", "EASYJOB_NOTIFY_SMTP_PASSWORD")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// GetServerAddr returns the HTTP listen address
func (c *Config) GetServerAddr() string {
	if c.Server.Addr == "" {
		return DefaultServerAddr
	}
	return c.Server.Addr
}

// NotificationsActive reports whether failure notifications should be sent.
func (c *Config) NotificationsActive() bool {
	return c.Notify.Enabled && !c.Notify.Debug
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Engine: {Workers: %d}, Server: {Addr: %s}}",
		c.Database.Path, c.Engine.Workers, c.Server.Addr)
}
