package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := validConfig(t)

	assert.Equal(t, "easyjob.db", cfg.Database.Path)
	assert.Equal(t, 10, cfg.Engine.Workers)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, 2000, cfg.Engine.OutputLimit)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval())
	assert.Equal(t, 60*time.Second, cfg.RegistrySyncInterval())
	assert.Equal(t, "jobs.d", cfg.Registry.Dir)
	assert.True(t, cfg.Registry.Watch)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Retry.Factor)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout())
	assert.Equal(t, 587, cfg.Notify.SMTP.Port)
	assert.Equal(t, "127.0.0.1:8686", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)

	require.NoError(t, cfg.Validate(), "defaults must always validate")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero workers is invalid", func(c *Config) { c.Engine.Workers = 0 }, true},
		{"zero shutdown timeout is valid (no wait)", func(c *Config) { c.Engine.ShutdownTimeoutSeconds = 0 }, false},
		{"zero reconcile interval is invalid", func(c *Config) { c.Scheduler.ReconcileIntervalSeconds = 0 }, true},
		{"negative debounce is invalid", func(c *Config) { c.Registry.DebounceMS = -1 }, true},
		{"zero retries is valid", func(c *Config) { c.Retry.MaxAttempts = 0 }, false},
		{"shrinking factor is invalid", func(c *Config) { c.Retry.Factor = 0.5 }, true},
		{"zero rate is unlimited", func(c *Config) { c.Fetch.RequestsPerSecond = 0; c.Fetch.Burst = 0 }, false},
		{"rate without burst is invalid", func(c *Config) { c.Fetch.Burst = 0 }, true},
		{"smtp host without sender", func(c *Config) { c.Notify.SMTP.Host = "mail.local"; c.Notify.SMTP.To = []string{"ops@example.com"} }, true},
		{"smtp complete", func(c *Config) {
			c.Notify.SMTP.Host = "mail.local"
			c.Notify.SMTP.From = "easyjob@example.com"
			c.Notify.SMTP.To = []string{"ops@example.com"}
		}, false},
		{"bad server addr", func(c *Config) { c.Server.Addr = "8686" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistryDebounce_Clamped(t *testing.T) {
	cfg := validConfig(t)

	cfg.Registry.DebounceMS = 200
	assert.Equal(t, time.Second, cfg.RegistryDebounce())

	cfg.Registry.DebounceMS = 2500
	assert.Equal(t, 2500*time.Millisecond, cfg.RegistryDebounce())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
path = "/var/lib/easyjob/jobs.db"

[engine]
workers = 3

[notify.smtp]
to = ["ops@example.com", "oncall@example.com"]
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/easyjob/jobs.db", cfg.Database.Path)
	assert.Equal(t, 3, cfg.Engine.Workers)
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, cfg.Notify.SMTP.To)
	assert.Equal(t, 30, cfg.Engine.ShutdownTimeoutSeconds, "unset keys keep their defaults")

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoad_Precedence(t *testing.T) {
	Reset()
	defer Reset()

	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".easyjob"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".easyjob", "am.toml"), []byte(`
[database]
path = "user.db"

[engine]
workers = 4
`), 0644))

	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, "am.toml"), []byte(`
[database]
path = "project.db"
`), 0644))
	nested := filepath.Join(project, "jobs", "nightly")
	require.NoError(t, os.MkdirAll(nested, 0755))

	t.Setenv("HOME", home)
	t.Setenv("EASYJOB_SERVER_ADDR", "0.0.0.0:9000")
	t.Chdir(nested)

	cfg, err := Load()
	require.NoError(t, err)

	t.Run("project file found by walking up wins over user file", func(t *testing.T) {
		assert.Equal(t, "project.db", cfg.Database.Path)
		assert.Equal(t, SourceProject, ConfigSources["database.path"].Source)
	})

	t.Run("user file still supplies keys the project leaves alone", func(t *testing.T) {
		assert.Equal(t, 4, cfg.Engine.Workers)
		assert.Equal(t, SourceUser, ConfigSources["engine.workers"].Source)
	})

	t.Run("environment wins over every file", func(t *testing.T) {
		assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	})

	t.Run("introspection reports sources", func(t *testing.T) {
		byKey := map[string]SettingInfo{}
		for _, s := range Introspect() {
			byKey[s.Key] = s
		}
		assert.Equal(t, SourceEnvironment, byKey["server.addr"].Source)
		assert.Equal(t, "EASYJOB_SERVER_ADDR", byKey["server.addr"].SourcePath)
		assert.Equal(t, SourceDefault, byKey["engine.output_limit"].Source)
		assert.Equal(t, SourceProject, byKey["database.path"].Source)
	})
}

func TestRedacted_MasksPassword(t *testing.T) {
	Reset()
	defer Reset()

	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("EASYJOB_NOTIFY_SMTP_PASSWORD", "hunter2")

	settings := Redacted()
	smtp, ok := settings["notify"].(map[string]interface{})["smtp"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "********", smtp["password"])

	for _, s := range Introspect() {
		if s.Key == "notify.smtp.password" {
			assert.Equal(t, "********", s.Value)
		}
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "EASYJOB_ENGINE_WORKERS", EnvKey("engine.workers"))
}
