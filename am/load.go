package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/teranos/easyjob/errors"
)

// EnvPrefix is prepended to every environment override (EASYJOB_ENGINE_WORKERS).
const EnvPrefix = "EASYJOB"

// ConfigFileName is the file searched for in every config location.
const ConfigFileName = "am.toml"

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the easyjob configuration using Viper
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	config, err := LoadWithViper(initViper())
	if err != nil {
		return nil, err
	}

	globalConfig = config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	// Defaults only; no environment binding for an explicit file
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config from %s", configPath)
	}
	return config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
	ConfigSources = map[string]SourceInfo{}
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)

	SetDefaults(v)

	// Merge config files in precedence order: system -> user -> project -> env vars
	mergeConfigFiles(v, configPaths())

	viperInstance = v
	return v
}

// findProjectConfig searches for am.toml by walking up the directory tree.
// Returns the path to the first config file found, or empty string.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

type configPath struct {
	path   string
	source ConfigSource
}

// configPaths lists candidate files from lowest to highest precedence
func configPaths() []configPath {
	paths := []configPath{
		{path: filepath.Join("/etc/easyjob", ConfigFileName), source: SourceSystem},
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, configPath{
			path:   filepath.Join(homeDir, ".easyjob", ConfigFileName),
			source: SourceUser,
		})
	}

	if project := findProjectConfig(); project != "" {
		paths = append(paths, configPath{path: project, source: SourceProject})
	}

	return paths
}

// mergeConfigFiles merges each existing file into v's config layer so that
// environment variables keep precedence over every file.
func mergeConfigFiles(v *viper.Viper, paths []configPath) {
	seen := make(map[string]bool)

	for _, candidate := range paths {
		abs, err := filepath.Abs(candidate.path)
		if err == nil {
			if seen[abs] {
				continue
			}
			seen[abs] = true
		}

		if _, err := os.Stat(candidate.path); err != nil {
			continue
		}

		fileViper := viper.New()
		fileViper.SetConfigFile(candidate.path)
		fileViper.SetConfigType("toml")
		if err := fileViper.ReadInConfig(); err != nil {
			continue
		}

		settings := fileViper.AllSettings()
		if err := v.MergeConfigMap(settings); err != nil {
			continue
		}
		trackSources(settings, "", SourceInfo{Source: candidate.source, Path: candidate.path})
	}
}

// Get returns a configuration value using dot notation
func Get(key string) interface{} {
	return initViper().Get(key)
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	return initViper().GetString(key)
}

// GetInt returns a configuration value as int using dot notation
func GetInt(key string) int {
	return initViper().GetInt(key)
}

// GetBool returns a configuration value as bool using dot notation
func GetBool(key string) bool {
	return initViper().GetBool(key)
}
