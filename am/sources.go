package am

import (
	"os"
	"sort"
	"strings"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/easyjob/am.toml
	SourceUser        ConfigSource = "user"        // ~/.easyjob/am.toml
	SourceProject     ConfigSource = "project"     // am.toml found walking up from the working directory
	SourceEnvironment ConfigSource = "environment" // EASYJOB_* env vars
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string // File path or environment variable name
}

// ConfigSources records, per flattened key, the last file that set it.
var ConfigSources = map[string]SourceInfo{}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      interface{}  `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"`
}

// sensitiveKeys are never echoed back by introspection
var sensitiveKeys = map[string]bool{
	"notify.smtp.password": true,
}

// Introspect returns every effective setting with the source it came from.
// Sensitive values are redacted.
func Introspect() []SettingInfo {
	v := GetViper()

	var settings []SettingInfo
	flattenSettings(v.AllSettings(), "", func(key string, value interface{}) {
		info := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := ConfigSources[key]; ok {
			info = si
		}

		envKey := EnvKey(key)
		if _, ok := os.LookupEnv(envKey); ok {
			info = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}

		if sensitiveKeys[key] && value != "" {
			value = "********"
		}

		settings = append(settings, SettingInfo{
			Key:        key,
			Value:      value,
			Source:     info.Source,
			SourcePath: info.Path,
		})
	})
	return settings
}

// Redacted returns the effective settings as a nested map with sensitive
// values masked, suitable for rendering.
func Redacted() map[string]interface{} {
	all := GetViper().AllSettings()
	for key := range sensitiveKeys {
		parts := strings.Split(key, ".")
		m := all
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]interface{})
			if !ok {
				m = nil
				break
			}
			m = next
		}
		if m == nil {
			continue
		}
		last := parts[len(parts)-1]
		if val, ok := m[last]; ok && val != "" {
			m[last] = "********"
		}
	}
	return all
}

// EnvKey maps a dotted key to its environment variable name.
func EnvKey(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func trackSources(settings map[string]interface{}, prefix string, info SourceInfo) {
	flattenSettings(settings, prefix, func(key string, _ interface{}) {
		ConfigSources[key] = info
	})
}

func flattenSettings(settings map[string]interface{}, prefix string, visit func(key string, value interface{})) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := settings[key].(map[string]interface{}); ok {
			flattenSettings(nested, fullKey, visit)
			continue
		}
		visit(fullKey, settings[key])
	}
}
