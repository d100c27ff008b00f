package am

import (
	"net"

	"github.com/teranos/easyjob/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Database path is optional - empty falls back to DefaultDatabasePath

	// Engine: a pool needs at least one worker
	if c.Engine.Workers <= 0 {
		return errors.Newf("engine.workers must be > 0, got %d", c.Engine.Workers)
	}
	if c.Engine.ShutdownTimeoutSeconds < 0 {
		return errors.Newf("engine.shutdown_timeout_seconds must be >= 0, got %d", c.Engine.ShutdownTimeoutSeconds)
	}
	if c.Engine.OutputLimit <= 0 {
		return errors.Newf("engine.output_limit must be > 0, got %d", c.Engine.OutputLimit)
	}

	// Scheduler intervals drive tickers, which panic on non-positive durations
	if c.Scheduler.ReconcileIntervalSeconds <= 0 {
		return errors.Newf("scheduler.reconcile_interval_seconds must be > 0, got %d", c.Scheduler.ReconcileIntervalSeconds)
	}
	if c.Scheduler.RegistrySyncIntervalSeconds <= 0 {
		return errors.Newf("scheduler.registry_sync_interval_seconds must be > 0, got %d", c.Scheduler.RegistrySyncIntervalSeconds)
	}

	// Registry debounce below the minimum is clamped, negative is a typo
	if c.Registry.DebounceMS < 0 {
		return errors.Newf("registry.debounce_ms must be >= 0, got %d", c.Registry.DebounceMS)
	}

	if c.Retry.MaxAttempts < 0 {
		return errors.Newf("retry.max_attempts must be >= 0, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelayMS < 0 || c.Retry.MaxDelayMS < 0 {
		return errors.New("retry delays must be >= 0")
	}
	if c.Retry.Factor < 1 {
		return errors.Newf("retry.factor must be >= 1, got %g", c.Retry.Factor)
	}

	// Fetch: 0 requests_per_second = unlimited, negative = invalid
	if c.Fetch.TimeoutSeconds <= 0 {
		return errors.Newf("fetch.timeout_seconds must be > 0, got %d", c.Fetch.TimeoutSeconds)
	}
	if c.Fetch.RequestsPerSecond < 0 {
		return errors.Newf("fetch.requests_per_second must be >= 0, got %g", c.Fetch.RequestsPerSecond)
	}
	if c.Fetch.RequestsPerSecond > 0 && c.Fetch.Burst <= 0 {
		return errors.Newf("fetch.burst must be > 0 when rate limiting, got %d", c.Fetch.Burst)
	}

	// SMTP is only validated when configured
	if c.Notify.SMTP.Host != "" {
		if c.Notify.SMTP.Port <= 0 || c.Notify.SMTP.Port > 65535 {
			return errors.Newf("notify.smtp.port must be 1-65535, got %d", c.Notify.SMTP.Port)
		}
		if c.Notify.SMTP.From == "" {
			return errors.New("notify.smtp.from cannot be empty when notify.smtp.host is set")
		}
		if len(c.Notify.SMTP.To) == 0 {
			return errors.New("notify.smtp.to needs at least one recipient when notify.smtp.host is set")
		}
	}

	if c.Server.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
			return errors.Wrapf(err, "server.addr %q is not host:port", c.Server.Addr)
		}
	}

	return nil
}
